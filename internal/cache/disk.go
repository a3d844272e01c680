package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	rawExt  = ".pcm"
	zstdExt = ".pcm.zst"
)

// diskCache stores one file per key, evicting the least recently used file
// when over capacity. The file modification time doubles as access time, so
// the index can be rebuilt from the directory on start.
type diskCache struct {
	mu       sync.Mutex
	dir      string
	capacity int64
	size     int64
	index    map[string]*diskEntry
	stats    Stats

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type diskEntry struct {
	path     string
	size     int64
	accessed time.Time
}

func newDiskCache(dir string, capacity int64, level int) (*diskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &diskCache{
		dir:      dir,
		capacity: capacity,
		index:    make(map[string]*diskEntry),
	}

	if level > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dc.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	if err := dc.load(); err != nil {
		return nil, err
	}
	return dc, nil
}

// load rebuilds the index from files left by earlier runs.
func (dc *diskCache) load() error {
	entries, err := os.ReadDir(dc.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := keyFromName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dc.index[key] = &diskEntry{
			path:     filepath.Join(dc.dir, e.Name()),
			size:     info.Size(),
			accessed: info.ModTime(),
		}
		dc.size += info.Size()
	}

	dc.evictLocked(0)
	return nil
}

func keyFromName(name string) (string, bool) {
	for _, ext := range []string{zstdExt, rawExt} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), true
		}
	}
	return "", false
}

func (dc *diskCache) get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(entry.path)
	if err == nil && strings.HasSuffix(entry.path, zstdExt) {
		if dc.decoder == nil {
			err = errors.New("compressed entry without decoder")
		} else {
			data, err = dc.decoder.DecodeAll(data, nil)
		}
	}
	if err != nil {
		dc.removeLocked(key, entry)
		dc.stats.Misses++
		return nil, false
	}

	now := time.Now()
	entry.accessed = now
	_ = os.Chtimes(entry.path, now, now)
	dc.stats.Hits++
	return data, true
}

func (dc *diskCache) put(key string, value []byte) error {
	data, ext := value, rawExt
	if dc.encoder != nil {
		if packed := dc.encoder.EncodeAll(value, nil); len(packed) < len(value) {
			data, ext = packed, zstdExt
		}
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	n := int64(len(data))
	if n > dc.capacity {
		return ErrItemTooLarge
	}
	if old, ok := dc.index[key]; ok {
		dc.removeLocked(key, old)
	}
	dc.evictLocked(n)

	path := filepath.Join(dc.dir, key+ext)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	dc.index[key] = &diskEntry{path: path, size: n, accessed: time.Now()}
	dc.size += n
	return nil
}

// evictLocked removes least recently used files until incoming bytes fit.
func (dc *diskCache) evictLocked(incoming int64) {
	if dc.size+incoming <= dc.capacity {
		return
	}

	keys := make([]string, 0, len(dc.index))
	for k := range dc.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return dc.index[keys[i]].accessed.Before(dc.index[keys[j]].accessed)
	})

	for _, k := range keys {
		if dc.size+incoming <= dc.capacity {
			break
		}
		dc.removeLocked(k, dc.index[k])
		dc.stats.Evictions++
	}
}

func (dc *diskCache) removeLocked(key string, entry *diskEntry) {
	_ = os.Remove(entry.path)
	delete(dc.index, key)
	dc.size -= entry.size
}

// prune removes entries not accessed within maxAge.
func (dc *diskCache) prune(maxAge time.Duration) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	n := 0
	for k, e := range dc.index {
		if e.accessed.Before(cutoff) {
			dc.removeLocked(k, e)
			n++
		}
	}
	return n
}

func (dc *diskCache) clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var errs []error
	for k, e := range dc.index {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		delete(dc.index, k)
	}
	dc.size = 0
	return errors.Join(errs...)
}

func (dc *diskCache) snapshot() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	s := dc.stats
	s.Capacity = dc.capacity
	s.Size = dc.size
	s.Items = int64(len(dc.index))
	return s
}

func (dc *diskCache) close() {
	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	if dc.decoder != nil {
		dc.decoder.Close()
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
