// Package engines provides the synthesis backends driven by the speech
// worker: speech commands (say, espeak-ng), PCM synthesizers played through
// the audio device (piper, gTTS), a fallback wrapper and a silent mock.
package engines

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/engines/mock"
	"github.com/readaloud/readaloud/internal/ttypes"
)

// ErrUnknownEngine is returned for an unsupported engine name.
var ErrUnknownEngine = errors.New("unknown speech engine")

// DefaultVoice is used by say when no voice is configured.
const DefaultVoice = "Samantha"

// Config selects and configures a backend.
type Config struct {
	Engine   ttypes.EngineType
	Fallback ttypes.EngineType
	Voice    string

	// MaxFailures before switching to Fallback
	MaxFailures int

	Espeak string // espeak binary, espeak-ng by default
	Piper  PiperConfig
	GTTS   GTTSConfig

	// Cache holds rendered PCM for piper and gTTS; may be nil
	Cache *cache.AudioCache

	// NewPlayer opens the audio device; nil uses DefaultPlayer
	NewPlayer PlayerFactory

	Logger *log.Logger
}

// DefaultEngine returns the platform's built-in speech command.
func DefaultEngine() ttypes.EngineType {
	if runtime.GOOS == "darwin" {
		return ttypes.EngineSay
	}
	return ttypes.EngineEspeak
}

// New builds the configured backend, wrapped in a Fallback when a distinct
// fallback engine is set.
func New(cfg Config) (ttypes.Backend, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	kind := cfg.Engine
	if kind == ttypes.EngineNone {
		kind = DefaultEngine()
	}

	primary, err := newBackend(kind, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == ttypes.EngineNone || cfg.Fallback == kind {
		return primary, nil
	}

	secondary, err := newBackend(cfg.Fallback, cfg)
	if err != nil {
		cfg.Logger.Warn("Fallback engine unavailable", "engine", cfg.Fallback, "error", err)
		return primary, nil
	}
	return NewFallback(primary, secondary, cfg.MaxFailures, cfg.Logger), nil
}

func newBackend(kind ttypes.EngineType, cfg Config) (ttypes.Backend, error) {
	switch kind {
	case ttypes.EngineSay:
		voice := cfg.Voice
		if voice == "" {
			voice = DefaultVoice
		}
		return NewSay(voice), nil

	case ttypes.EngineEspeak:
		return NewEspeak(cfg.Espeak, cfg.Voice), nil

	case ttypes.EnginePiper:
		pc := cfg.Piper
		if pc.Voice == "" {
			pc.Voice = cfg.Voice
		}
		synth, err := NewPiper(pc)
		if err != nil {
			return nil, fmt.Errorf("failed to configure piper: %w", err)
		}
		return NewPCMBackend(synth, synth.Model(), cfg.Cache, cfg.NewPlayer, cfg.Logger), nil

	case ttypes.EngineGoogle:
		synth := NewGTTS(cfg.GTTS)
		return NewPCMBackend(synth, cfg.GTTS.Language, cfg.Cache, cfg.NewPlayer, cfg.Logger), nil

	case ttypes.EngineMock:
		return mock.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
}

// Dependency is one external program a backend needs.
type Dependency struct {
	Engine ttypes.EngineType
	Binary string
	Path   string
	Err    error
}

// Found reports whether the binary is in PATH.
func (d Dependency) Found() bool {
	return d.Err == nil
}

// Dependencies looks up the external programs of every backend.
func Dependencies(cfg Config) []Dependency {
	espeak := cfg.Espeak
	if espeak == "" {
		espeak = "espeak-ng"
	}
	piper := cfg.Piper.Binary
	if piper == "" {
		piper = "piper"
	}
	gtts := cfg.GTTS.Binary
	if gtts == "" {
		gtts = "gtts-cli"
	}
	ffmpeg := cfg.GTTS.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	wanted := []Dependency{
		{Engine: ttypes.EngineSay, Binary: "say"},
		{Engine: ttypes.EngineEspeak, Binary: espeak},
		{Engine: ttypes.EnginePiper, Binary: piper},
		{Engine: ttypes.EngineGoogle, Binary: gtts},
		{Engine: ttypes.EngineGoogle, Binary: ffmpeg},
	}
	for i := range wanted {
		wanted[i].Path, wanted[i].Err = exec.LookPath(wanted[i].Binary)
	}
	return wanted
}
