package audio

import (
	"errors"
	"fmt"
	"time"
)

// PCM format constants. Backends produce signed 16-bit little-endian mono.
const (
	BytesPerSample    = 2
	DefaultChannels   = 1
	DefaultSampleRate = 22050
)

var (
	// ErrEmptyAudio is returned when Play is called without samples
	ErrEmptyAudio = errors.New("audio data is empty")

	// ErrPlayerClosed is returned after Close
	ErrPlayerClosed = errors.New("player is closed")
)

// Config describes the PCM stream a player accepts.
type Config struct {
	SampleRate int
	Channels   int
}

// DefaultConfig returns the format piper produces.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}
}

// Validate checks that the format is playable.
func (c Config) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 96000 {
		return fmt.Errorf("sample rate must be between 8000 and 96000 Hz, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	return nil
}

// Duration returns how long n bytes of PCM in this format play for.
func (c Config) Duration(n int) time.Duration {
	frame := c.Channels * BytesPerSample
	if frame <= 0 || c.SampleRate <= 0 {
		return 0
	}
	frames := n / frame
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// alignFrame trims a trailing partial frame, which oto rejects.
func alignFrame(pcm []byte, channels int) []byte {
	frame := channels * BytesPerSample
	return pcm[:len(pcm)-len(pcm)%frame]
}
