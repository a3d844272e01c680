//go:build !nocgo

package audio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// oto supports a single context per process, created with a fixed format.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoConfig Config
	otoErr    error
)

func sharedContext(cfg Config) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx, otoConfig = ctx, cfg
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoConfig != cfg {
		return nil, fmt.Errorf("audio device already opened at %d Hz/%d ch, cannot switch to %d Hz/%d ch",
			otoConfig.SampleRate, otoConfig.Channels, cfg.SampleRate, cfg.Channels)
	}
	return otoCtx, nil
}

// Player plays one PCM buffer at a time through the shared oto context.
type Player struct {
	cfg Config
	ctx *oto.Context

	mu     sync.Mutex
	player *oto.Player
	data   []byte // must stay reachable while oto reads from it
	closed bool
}

// NewPlayer opens the audio device for cfg.
func NewPlayer(cfg Config) (*Player, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	ctx, err := sharedContext(cfg)
	if err != nil {
		return nil, err
	}
	return &Player{cfg: cfg, ctx: ctx}, nil
}

// Play starts playback of pcm and returns immediately. Any current playback
// is stopped first.
func (p *Player) Play(pcm []byte) error {
	pcm = alignFrame(pcm, p.cfg.Channels)
	if len(pcm) == 0 {
		return ErrEmptyAudio
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlayerClosed
	}
	p.stopLocked()

	p.data = pcm
	p.player = p.ctx.NewPlayer(bytes.NewReader(p.data))
	p.player.Play()
	return nil
}

// Stop halts playback. It is a no-op when nothing is playing.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Player) stopLocked() error {
	if p.player == nil {
		return nil
	}
	p.player.Pause()
	err := p.player.Close()
	p.player = nil
	p.data = nil
	return err
}

// IsPlaying reports whether samples are still being played.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil {
		return false
	}
	if p.player.IsPlaying() {
		return true
	}
	// Finished naturally; release the buffer.
	_ = p.stopLocked()
	return false
}

// Close stops playback. The shared device stays open for the process.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.stopLocked()
}

// Config returns the player's PCM format.
func (p *Player) Config() Config {
	return p.cfg
}
