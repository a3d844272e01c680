package engines

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/audio"
	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/ttypes"
)

type fakeSynth struct {
	delay    time.Duration
	err      error
	calls    atomic.Int32
	lastRate atomic.Int32
	canceled atomic.Bool
}

func (f *fakeSynth) Name() string { return "fake" }
func (f *fakeSynth) Check() error { return nil }
func (f *fakeSynth) Format() audio.Config { return audio.Config{SampleRate: 8000, Channels: 1} }

func (f *fakeSynth) Synthesize(ctx context.Context, text string, wpm int) ([]byte, error) {
	f.calls.Add(1)
	f.lastRate.Store(int32(wpm))
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		f.canceled.Store(true)
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return make([]byte, 160), nil // 10ms at 8kHz
}

func newTestPCMBackend(t *testing.T, synth Synthesizer, ac *cache.AudioCache) (*PCMBackend, *audio.MockPlayer) {
	t.Helper()
	var player *audio.MockPlayer
	factory := func(cfg audio.Config) (ttypes.PCMPlayer, error) {
		player = audio.NewMockPlayer(cfg)
		return player, nil
	}
	b := NewPCMBackend(synth, "", ac, factory, log.New(io.Discard))
	if err := b.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, player
}

// speakToEnd drives Iterate the way the worker does until finished fires.
func speakToEnd(t *testing.T, b *PCMBackend, text string) error {
	t.Helper()
	done := make(chan error, 1)
	if err := b.Say(text, func(err error) { done <- err }); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("Utterance never finished")
		case <-time.After(5 * time.Millisecond):
			if err := b.Iterate(); err != nil {
				t.Fatalf("Iterate failed: %v", err)
			}
		}
	}
}

func TestPCMBackend_PlaysSynthesizedAudio(t *testing.T) {
	synth := &fakeSynth{}
	b, player := newTestPCMBackend(t, synth, nil)
	_ = b.SetRate(320)

	if err := speakToEnd(t, b, "Hello."); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if b.Busy() {
		t.Error("Expected idle after playback")
	}
	if player.PlayCount() != 1 {
		t.Errorf("Expected 1 playback, got %d", player.PlayCount())
	}
	if synth.lastRate.Load() != 320 {
		t.Errorf("Expected rate 320 passed to synthesizer, got %d", synth.lastRate.Load())
	}
}

func TestPCMBackend_KillDuringSynthesis(t *testing.T) {
	synth := &fakeSynth{delay: 5 * time.Second}
	b, player := newTestPCMBackend(t, synth, nil)

	done := make(chan error, 1)
	if err := b.Say("Slow.", func(err error) { done <- err }); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if !b.Busy() {
		t.Fatal("Expected busy while synthesizing")
	}

	if err := b.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Errorf("Expected ErrInterrupted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Kill did not finish the utterance")
	}

	time.Sleep(50 * time.Millisecond)
	if !synth.canceled.Load() {
		t.Error("Expected synthesis cancelled")
	}
	if player.PlayCount() != 0 {
		t.Error("Interrupted audio must not be played")
	}
}

func TestPCMBackend_SynthesisError(t *testing.T) {
	boom := errors.New("model crashed")
	b, _ := newTestPCMBackend(t, &fakeSynth{err: boom}, nil)

	if err := speakToEnd(t, b, "Broken."); !errors.Is(err, boom) {
		t.Errorf("Expected synthesis error, got %v", err)
	}
	if b.Busy() {
		t.Error("Expected idle after failure")
	}
}

func TestPCMBackend_UsesCache(t *testing.T) {
	ac, err := cache.New(cache.Config{MemoryCapacity: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	synth := &fakeSynth{}
	b, player := newTestPCMBackend(t, synth, ac)

	for i := 0; i < 3; i++ {
		if err := speakToEnd(t, b, "Same sentence."); err != nil {
			t.Fatalf("Utterance %d failed: %v", i, err)
		}
	}
	if synth.calls.Load() != 1 {
		t.Errorf("Expected one synthesis, got %d", synth.calls.Load())
	}
	if player.PlayCount() != 3 {
		t.Errorf("Expected 3 playbacks, got %d", player.PlayCount())
	}

	// A different rate is a different rendering
	_ = b.SetRate(200)
	_ = speakToEnd(t, b, "Same sentence.")
	if synth.calls.Load() != 2 {
		t.Errorf("Expected new synthesis at a new rate, got %d calls", synth.calls.Load())
	}
}

func TestPCMBackend_RejectsOverlapAndClosed(t *testing.T) {
	b, _ := newTestPCMBackend(t, &fakeSynth{delay: time.Second}, nil)

	_ = b.Say("First.", func(error) {})
	if err := b.Say("Second.", func(error) {}); err == nil {
		t.Error("Expected overlapping Say rejected")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Say("After close.", func(error) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
