package engines

import (
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/engines/mock"
	"github.com/readaloud/readaloud/internal/ttypes"
)

func TestNew(t *testing.T) {
	logger := log.New(io.Discard)

	b, err := New(Config{Engine: ttypes.EngineMock, Logger: logger})
	if err != nil {
		t.Fatalf("New(mock) failed: %v", err)
	}
	if _, ok := b.(*mock.MockEngine); !ok {
		t.Errorf("Expected *mock.MockEngine, got %T", b)
	}

	b, _ = New(Config{Engine: ttypes.EngineMock, Fallback: ttypes.EngineMock, Logger: logger})
	if _, ok := b.(*Fallback); ok {
		t.Error("Same primary and fallback must not be wrapped")
	}

	b, err = New(Config{Engine: ttypes.EngineEspeak, Fallback: ttypes.EngineMock, Logger: logger})
	if err != nil {
		t.Fatalf("New(espeak+mock) failed: %v", err)
	}
	if _, ok := b.(*Fallback); !ok {
		t.Errorf("Expected *Fallback, got %T", b)
	}

	if _, err := New(Config{Engine: "festival", Logger: logger}); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Expected ErrUnknownEngine, got %v", err)
	}

	if _, err := New(Config{Engine: ttypes.EnginePiper, Logger: logger}); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected piper without a model to fail, got %v", err)
	}

	// An unusable fallback leaves the primary on its own
	b, err = New(Config{Engine: ttypes.EngineMock, Fallback: ttypes.EnginePiper, Logger: logger})
	if err != nil {
		t.Fatalf("Expected primary kept, got %v", err)
	}
	if _, ok := b.(*mock.MockEngine); !ok {
		t.Errorf("Expected bare primary, got %T", b)
	}
}

func TestNew_Piper(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "en_US-lessac-high.onnx"), "")

	b, err := New(Config{
		Engine: ttypes.EnginePiper,
		Voice:  "lessac",
		Piper:  PiperConfig{ModelDir: dir},
		Logger: log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("New(piper) failed: %v", err)
	}
	if b.Name() != "piper" {
		t.Errorf("Expected piper backend, got %q", b.Name())
	}
}

func TestDefaultEngine(t *testing.T) {
	want := ttypes.EngineEspeak
	if runtime.GOOS == "darwin" {
		want = ttypes.EngineSay
	}
	if got := DefaultEngine(); got != want {
		t.Errorf("DefaultEngine() = %q, want %q", got, want)
	}
}

func TestDependencies(t *testing.T) {
	deps := Dependencies(Config{Espeak: "readaloud-no-espeak"})
	if len(deps) != 5 {
		t.Fatalf("Expected 5 dependencies, got %d", len(deps))
	}
	for _, d := range deps {
		if d.Binary == "readaloud-no-espeak" {
			if d.Found() {
				t.Error("Missing binary reported as found")
			}
			if d.Engine != ttypes.EngineEspeak {
				t.Errorf("Expected espeak engine, got %q", d.Engine)
			}
			return
		}
	}
	t.Error("Configured espeak binary not checked")
}
