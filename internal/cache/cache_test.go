package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func pcm(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestKey(t *testing.T) {
	a := Key("piper", "amy", 300, "Hello.")
	if a != Key("piper", "amy", 300, "Hello.") {
		t.Error("Key must be deterministic")
	}
	for _, other := range []string{
		Key("piper", "amy", 250, "Hello."),
		Key("piper", "ryan", 300, "Hello."),
		Key("gtts", "amy", 300, "Hello."),
		Key("piper", "amy", 300, "Hello!"),
		Key("piper", "amy3", 0, "00Hello."),
	} {
		if other == a {
			t.Errorf("Expected distinct keys, both %s", a)
		}
	}
	if len(a) != 64 {
		t.Errorf("Expected sha256 hex key, got %q", a)
	}
}

func TestMemoryCache_LRU(t *testing.T) {
	c := newMemoryCache(100)

	_ = c.put("a", pcm(40, 1))
	_ = c.put("b", pcm(40, 2))
	if _, ok := c.get("a"); !ok {
		t.Fatal("Expected hit for a")
	}
	_ = c.put("c", pcm(40, 3)) // evicts b, the least recently used

	if _, ok := c.get("b"); ok {
		t.Error("Expected b evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("Expected a kept")
	}

	s := c.snapshot()
	if s.Size != 80 || s.Items != 2 || s.Evictions != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
	if err := c.put("huge", pcm(101, 0)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemoryCache_Replace(t *testing.T) {
	c := newMemoryCache(100)
	_ = c.put("a", pcm(60, 1))
	_ = c.put("a", pcm(30, 2))

	got, _ := c.get("a")
	if len(got) != 30 || got[0] != 2 {
		t.Errorf("Expected replaced value")
	}
	if s := c.snapshot(); s.Size != 30 {
		t.Errorf("Expected size 30 after replace, got %d", s.Size)
	}
}

func TestAudioCache_DiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	key := Key("piper", "", 300, "Cached sentence.")
	audio := pcm(8192, 7) // compresses well
	if err := c.Put(key, audio); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = c.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "*"+zstdExt))
	if len(files) != 1 {
		t.Fatalf("Expected one compressed file, got %v", files)
	}
	if info, _ := os.Stat(files[0]); info.Size() >= int64(len(audio)) {
		t.Errorf("Expected compressed file smaller than %d, got %d", len(audio), info.Size())
	}

	// A fresh cache finds the entry on disk and promotes it
	c2, err := New(cfg)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer c2.Close()

	got, level, ok := c2.Get(key)
	if !ok || level != LevelDisk || !bytes.Equal(got, audio) {
		t.Fatalf("Expected disk hit with original audio, got ok=%v level=%s", ok, level)
	}
	if _, level, _ := c2.Get(key); level != LevelMemory {
		t.Errorf("Expected promotion to memory, got %s", level)
	}
}

func TestAudioCache_DiskEviction(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{MemoryCapacity: 1 << 20, DiskCapacity: 250, Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	_ = c.Put("first", pcm(100, 1))
	time.Sleep(10 * time.Millisecond)
	_ = c.Put("second", pcm(100, 2))
	time.Sleep(10 * time.Millisecond)
	_ = c.Put("third", pcm(100, 3))

	_, disk := c.Stats()
	if disk.Size > 250 || disk.Items != 2 || disk.Evictions != 1 {
		t.Errorf("Unexpected disk stats %+v", disk)
	}
	if _, err := os.Stat(filepath.Join(dir, "first"+rawExt)); !os.IsNotExist(err) {
		t.Error("Expected oldest file removed from disk")
	}
}

func TestAudioCache_CorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	c, _ := New(cfg)
	_ = c.Put("k", pcm(4096, 9))
	_ = c.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "k*"))
	if len(files) != 1 {
		t.Fatalf("Expected one file, got %v", files)
	}
	if err := os.WriteFile(files[0], []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	c2, _ := New(cfg)
	defer c2.Close()
	if _, _, ok := c2.Get("k"); ok {
		t.Error("Expected corrupt entry treated as a miss")
	}
	if _, err := os.Stat(files[0]); !os.IsNotExist(err) {
		t.Error("Expected corrupt file removed")
	}
}

func TestAudioCache_Prune(t *testing.T) {
	dir := t.TempDir()
	c, _ := New(Config{MemoryCapacity: 1024, DiskCapacity: 1 << 20, Dir: dir, TTL: time.Hour})
	defer c.Close()

	_ = c.Put("old", pcm(10, 1))
	_ = c.Put("new", pcm(10, 2))

	past := time.Now().Add(-2 * time.Hour)
	c.disk.mu.Lock()
	c.disk.index["old"].accessed = past
	c.disk.mu.Unlock()

	if n := c.Prune(); n != 1 {
		t.Errorf("Expected 1 pruned, got %d", n)
	}
	if _, disk := c.Stats(); disk.Items != 1 {
		t.Errorf("Expected 1 item left, got %d", disk.Items)
	}
}

func TestAudioCache_MemoryOnly(t *testing.T) {
	c, err := New(Config{MemoryCapacity: 64})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := c.Put("big", pcm(65, 0)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge without a disk tier, got %v", err)
	}
	_ = c.Put("small", pcm(8, 0))
	if _, level, ok := c.Get("small"); !ok || level != LevelMemory {
		t.Error("Expected memory hit")
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, _, ok := c.Get("small"); ok {
		t.Error("Expected miss after Clear")
	}

	_ = c.Close()
	if err := c.Put("x", pcm(1, 0)); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("Expected ErrCacheClosed, got %v", err)
	}
}

func TestStats_String(t *testing.T) {
	s := Stats{Capacity: 32 << 20, Size: 1536, Items: 1200, Hits: 3, Misses: 1}
	got := s.String()
	for _, want := range []string{"1.5 KiB", "32 MiB", "1,200 items", "75% hits"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in %q", want, got)
		}
	}
}
