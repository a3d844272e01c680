package engines

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLengthScale(t *testing.T) {
	tests := []struct {
		wpm  int
		want string
	}{
		{170, "1.00"},
		{300, "0.57"},
		{85, "2.00"},
		{0, "1.00"},
		{10, "4.00"},
		{5000, "0.25"},
	}
	for _, tt := range tests {
		if got := fmt.Sprintf("%.2f", lengthScale(tt.wpm)); got != tt.want {
			t.Errorf("lengthScale(%d) = %s, want %s", tt.wpm, got, tt.want)
		}
	}
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindPiperModel(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"en_US-amy-medium.onnx", "en_GB-alan-low.onnx", "notes.txt"} {
		touch(t, filepath.Join(dir, name), "")
	}

	tests := []struct {
		voice string
		want  string
	}{
		{"amy", "en_US-amy-medium.onnx"},
		{"alan", "en_GB-alan-low.onnx"},
		{"", "en_GB-alan-low.onnx"},
	}
	for _, tt := range tests {
		got, err := FindPiperModel(dir, tt.voice)
		if err != nil {
			t.Errorf("FindPiperModel(%q) failed: %v", tt.voice, err)
			continue
		}
		if filepath.Base(got) != tt.want {
			t.Errorf("FindPiperModel(%q) = %s, want %s", tt.voice, filepath.Base(got), tt.want)
		}
	}

	if _, err := FindPiperModel(dir, "zzzz"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound, got %v", err)
	}
	if _, err := FindPiperModel(t.TempDir(), ""); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound for empty dir, got %v", err)
	}
	if _, err := FindPiperModel("", "amy"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound without a dir, got %v", err)
	}
}

func TestNewPiper_SampleRateFromModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "voice.onnx")
	touch(t, model, "")
	touch(t, model+".json", `{"audio": {"sample_rate": 16000}, "espeak": {"voice": "en-us"}}`)

	p, err := NewPiper(PiperConfig{Model: model})
	if err != nil {
		t.Fatalf("NewPiper failed: %v", err)
	}
	if p.Format().SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz from model config, got %d", p.Format().SampleRate)
	}

	p, _ = NewPiper(PiperConfig{Model: model, SampleRate: 22050})
	if p.Format().SampleRate != 22050 {
		t.Errorf("Expected explicit sample rate to win, got %d", p.Format().SampleRate)
	}

	if _, err := NewPiper(PiperConfig{}); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound without model, got %v", err)
	}
}

func TestPiper_Synthesize(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	t.Setenv("ARGS_OUT", out)
	bin := writeScript(t, "fake-piper", `echo "$@" > "$ARGS_OUT"
cat >> "$ARGS_OUT"
printf 'PCMDATA!'`)

	dir := t.TempDir()
	model := filepath.Join(dir, "amy.onnx")
	touch(t, model, "")

	p, err := NewPiper(PiperConfig{Binary: bin, Model: model, Speaker: "2"})
	if err != nil {
		t.Fatalf("NewPiper failed: %v", err)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	pcm, err := p.Synthesize(context.Background(), "Read me aloud.", 300)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(pcm) != "PCMDATA!" {
		t.Errorf("Unexpected PCM %q", pcm)
	}

	data, _ := os.ReadFile(out)
	got := string(data)
	for _, want := range []string{"--model " + model, "--output-raw", "--length-scale 0.57", "--speaker 2", "Read me aloud."} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in piper invocation %q", want, got)
		}
	}

	if _, err := p.Synthesize(context.Background(), "  ", 300); err == nil {
		t.Error("Expected empty text rejected")
	}
}

func TestPiper_SynthesizeCancelled(t *testing.T) {
	bin := writeScript(t, "slow-piper", "sleep 30")
	model := filepath.Join(t.TempDir(), "amy.onnx")
	touch(t, model, "")

	p, _ := NewPiper(PiperConfig{Binary: bin, Model: model})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Synthesize(ctx, "Never.", 200); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
