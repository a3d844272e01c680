package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/readaloud/readaloud/internal/audio"
	"github.com/readaloud/readaloud/utils"
	"github.com/sahilm/fuzzy"
)

// piperBaseRate is the speaking rate of a length scale of 1.0.
const piperBaseRate = 170

// ErrModelNotFound is returned when no voice model matches.
var ErrModelNotFound = errors.New("no piper voice model found")

// PiperConfig configures the Piper synthesizer.
type PiperConfig struct {
	// Binary is the piper executable, "piper" by default
	Binary string

	// Model is the .onnx voice model. When empty, the model is looked up
	// in ModelDir by Voice.
	Model    string
	ModelDir string
	Voice    string

	// Speaker selects a speaker id in multi-speaker models
	Speaker string

	// SampleRate overrides the rate read from the model's .onnx.json
	SampleRate int
}

// Piper runs piper once per utterance and reads raw PCM from stdout.
type Piper struct {
	binary  string
	model   string
	speaker string
	format  audio.Config
}

// NewPiper resolves the voice model and its sample rate.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = "piper"
	}

	model := utils.ExpandPath(cfg.Model)
	if model == "" {
		found, err := FindPiperModel(utils.ExpandPath(cfg.ModelDir), cfg.Voice)
		if err != nil {
			return nil, err
		}
		model = found
	}

	format := audio.DefaultConfig()
	if cfg.SampleRate > 0 {
		format.SampleRate = cfg.SampleRate
	} else if rate, err := modelSampleRate(model); err == nil {
		format.SampleRate = rate
	}

	return &Piper{
		binary:  binary,
		model:   model,
		speaker: cfg.Speaker,
		format:  format,
	}, nil
}

// Name returns "piper".
func (p *Piper) Name() string {
	return "piper"
}

// Model returns the resolved model path.
func (p *Piper) Model() string {
	return p.model
}

// Format returns the model's PCM format.
func (p *Piper) Format() audio.Config {
	return p.format
}

// Check verifies the binary and model are present.
func (p *Piper) Check() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("piper not found in PATH: %w", err)
	}
	if _, err := os.Stat(p.model); err != nil {
		return fmt.Errorf("model file not accessible: %w", err)
	}
	return nil
}

// Synthesize renders text with piper, mapping wpm to a length scale.
func (p *Piper) Synthesize(ctx context.Context, text string, wpm int) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}

	args := []string{
		"--model", p.model,
		"--output-raw",
		"--length-scale", fmt.Sprintf("%.2f", lengthScale(wpm)),
	}
	if p.speaker != "" {
		args = append(args, "--speaker", p.speaker)
	}

	return runCommand(ctx, p.binary, args, strings.NewReader(text))
}

// lengthScale converts words per minute to piper's length scale, where
// larger values are slower.
func lengthScale(wpm int) float64 {
	if wpm <= 0 {
		return 1
	}
	scale := float64(piperBaseRate) / float64(wpm)
	switch {
	case scale < 0.25:
		return 0.25
	case scale > 4:
		return 4
	}
	return scale
}

// modelSampleRate reads audio.sample_rate from the model's .onnx.json.
func modelSampleRate(model string) (int, error) {
	data, err := os.ReadFile(model + ".json")
	if err != nil {
		return 0, err
	}
	var meta struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return 0, fmt.Errorf("invalid model config: %w", err)
	}
	if meta.Audio.SampleRate <= 0 {
		return 0, errors.New("model config has no sample rate")
	}
	return meta.Audio.SampleRate, nil
}

// FindPiperModel returns the .onnx model in dir best matching voice. With an
// empty voice the first model in name order is used.
func FindPiperModel(dir, voice string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: no model or model directory configured", ErrModelNotFound)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in %s", ErrModelNotFound, dir)
	}
	sort.Strings(paths)

	if voice == "" {
		return paths[0], nil
	}

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = strings.TrimSuffix(filepath.Base(p), ".onnx")
	}
	matches := fuzzy.Find(voice, names)
	if len(matches) == 0 {
		return "", fmt.Errorf("%w for voice %q in %s", ErrModelNotFound, voice, dir)
	}
	return paths[matches[0].Index], nil
}
