package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// MockPlayer simulates playback for tests. A buffer "plays" for its PCM
// duration scaled by the speed factor.
type MockPlayer struct {
	cfg Config

	mu      sync.Mutex
	playing bool
	timer   *time.Timer
	played  [][]byte
	speed   float64
	playErr error
	closed  bool

	playCount atomic.Int64
	stopCount atomic.Int64
}

// NewMockPlayer creates a mock player that plays in real time.
func NewMockPlayer(cfg Config) *MockPlayer {
	return &MockPlayer{cfg: cfg, speed: 1}
}

// SetSpeed makes simulated playback run factor times faster.
func (m *MockPlayer) SetSpeed(factor float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if factor > 0 {
		m.speed = factor
	}
}

// SetPlayError makes Play fail with err.
func (m *MockPlayer) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// Play starts simulated playback.
func (m *MockPlayer) Play(pcm []byte) error {
	pcm = alignFrame(pcm, m.cfg.Channels)
	if len(pcm) == 0 {
		return ErrEmptyAudio
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrPlayerClosed
	}
	if m.playErr != nil {
		return m.playErr
	}
	m.stopLocked()

	m.playing = true
	m.played = append(m.played, pcm)
	m.playCount.Add(1)

	d := time.Duration(float64(m.cfg.Duration(len(pcm))) / m.speed)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timer == t {
			m.playing = false
			m.timer = nil
		}
	})
	m.timer = t
	return nil
}

// Stop halts simulated playback.
func (m *MockPlayer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	return nil
}

func (m *MockPlayer) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
		m.stopCount.Add(1)
	}
	m.playing = false
}

// IsPlaying reports whether simulated playback is in progress.
func (m *MockPlayer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Close stops playback and rejects further calls to Play.
func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.closed = true
	return nil
}

// Played returns every buffer passed to Play.
func (m *MockPlayer) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.played...)
}

// PlayCount returns the number of successful Play calls.
func (m *MockPlayer) PlayCount() int64 {
	return m.playCount.Load()
}

// StopCount returns the number of times playback was cut short.
func (m *MockPlayer) StopCount() int64 {
	return m.stopCount.Load()
}
