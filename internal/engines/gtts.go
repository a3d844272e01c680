package engines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/readaloud/readaloud/internal/audio"
	"golang.org/x/time/rate"
)

// gttsBaseRate approximates Google's normal speaking rate. Other rates are
// reached with ffmpeg's atempo filter.
const gttsBaseRate = 180

// GTTSConfig configures the Google Translate synthesizer.
type GTTSConfig struct {
	// Binary is gtts-cli by default
	Binary string

	// FFmpeg converts MP3 to PCM, "ffmpeg" by default
	FFmpeg string

	// Language code, "en" by default
	Language string

	// RequestsPerMinute limits calls to Google, 50 by default
	RequestsPerMinute int

	// SampleRate of the produced PCM, 22050 by default
	SampleRate int
}

// GTTS synthesizes with gtts-cli and converts the MP3 with ffmpeg.
type GTTS struct {
	binary   string
	ffmpeg   string
	language string
	format   audio.Config
	limiter  *rate.Limiter
}

// NewGTTS creates a gTTS synthesizer.
func NewGTTS(cfg GTTSConfig) *GTTS {
	if cfg.Binary == "" {
		cfg.Binary = "gtts-cli"
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}

	format := audio.DefaultConfig()
	if cfg.SampleRate > 0 {
		format.SampleRate = cfg.SampleRate
	}

	return &GTTS{
		binary:   cfg.Binary,
		ffmpeg:   cfg.FFmpeg,
		language: cfg.Language,
		format:   format,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

// Name returns "gtts".
func (g *GTTS) Name() string {
	return "gtts"
}

// Format returns the PCM format ffmpeg is asked to produce.
func (g *GTTS) Format() audio.Config {
	return g.format
}

// Check verifies gtts-cli and ffmpeg are installed.
func (g *GTTS) Check() error {
	if _, err := exec.LookPath(g.binary); err != nil {
		return fmt.Errorf("gtts-cli not found in PATH: %w (install with: pip install gtts)", err)
	}
	if _, err := exec.LookPath(g.ffmpeg); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// Synthesize fetches MP3 from Google and converts it to PCM at wpm.
func (g *GTTS) Synthesize(ctx context.Context, text string, wpm int) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	mp3, err := runCommand(ctx, g.binary, []string{"-l", g.language, "-o", "-", "-"}, strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("MP3 generation failed: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(g.format.SampleRate),
		"-ac", strconv.Itoa(g.format.Channels),
	}
	if tempo := atempo(wpm); tempo != 1 {
		args = append(args, "-filter:a", fmt.Sprintf("atempo=%.2f", tempo))
	}
	args = append(args, "pipe:1")

	pcm, err := runCommand(ctx, g.ffmpeg, args, bytes.NewReader(mp3))
	if err != nil {
		return nil, fmt.Errorf("MP3 to PCM conversion failed: %w", err)
	}
	return pcm, nil
}

// atempo maps wpm to ffmpeg's tempo factor, limited to its 0.5 to 2.0 range.
func atempo(wpm int) float64 {
	if wpm <= 0 {
		return 1
	}
	t := float64(wpm) / gttsBaseRate
	switch {
	case t < 0.5:
		return 0.5
	case t > 2:
		return 2
	}
	return t
}
