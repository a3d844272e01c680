//go:build nocgo

package audio

import "errors"

// ErrUnavailable is returned by NewPlayer in builds without audio support.
var ErrUnavailable = errors.New("audio not available in nocgo build")

// Player is a stub for builds without CGO.
type Player struct {
	cfg Config
}

// NewPlayer always fails in nocgo builds.
func NewPlayer(cfg Config) (*Player, error) {
	return nil, ErrUnavailable
}

func (p *Player) Play(pcm []byte) error { return ErrUnavailable }
func (p *Player) Stop() error { return nil }
func (p *Player) IsPlaying() bool { return false }
func (p *Player) Close() error { return nil }
func (p *Player) Config() Config { return p.cfg }
