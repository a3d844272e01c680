package speech

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/ttypes"
)

// Engine is the exclusive session around a synthesis backend. Backends are
// not safe for concurrent use, so every call into one happens with mu held,
// except Kill. The lock is held per call, never for a whole utterance, so
// cancellation and rate changes get in between poll ticks.
type Engine struct {
	mu      sync.Mutex
	backend ttypes.Backend
	rate    int

	state atomic.Int32 // ttypes.EngineState

	closeOnce sync.Once
	closeErr  error

	logger *log.Logger
}

// NewEngine wraps backend in an uninitialized session. rate is applied when
// the backend is opened; zero keeps the backend default.
func NewEngine(backend ttypes.Backend, rate int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		backend: backend,
		rate:    rate,
		logger:  logger,
	}
}

// Name returns the backend name.
func (e *Engine) Name() string {
	return e.backend.Name()
}

// State returns the current session state.
func (e *Engine) State() ttypes.EngineState {
	return ttypes.EngineState(e.state.Load())
}

// Rate returns the configured speaking rate.
func (e *Engine) Rate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Open initializes the backend. It is a no-op once the session is ready.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case ttypes.EngineReady, ttypes.EngineSpeaking:
		return nil
	case ttypes.EngineStopped:
		return ErrEngineClosed
	}

	if err := protect("open", e.backend.Open); err != nil {
		return NewSpeechError(ErrorCodeEngineInit, fmt.Sprintf("failed to open %s engine", e.backend.Name()), err)
	}

	if e.rate > 0 {
		if err := protect("set rate", func() error { return e.backend.SetRate(e.rate) }); err != nil {
			e.logger.Warn("Engine rejected initial rate", "engine", e.backend.Name(), "rate", e.rate, "error", err)
		}
	}

	e.state.Store(int32(ttypes.EngineReady))
	e.logger.Debug("Engine ready", "engine", e.backend.Name(), "rate", e.rate)
	return nil
}

// Speak submits text and moves the session to speaking. The returned channel
// receives the backend's completion result once.
func (e *Engine) Speak(text string) (<-chan error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case ttypes.EngineUninitialized:
		return nil, ErrNotInitialized
	case ttypes.EngineStopped:
		return nil, ErrEngineClosed
	}

	// The backend may report completion synchronously from inside Say, so
	// the callback must not take mu.
	done := make(chan error, 1)
	var once sync.Once
	finished := func(err error) {
		once.Do(func() { done <- err })
	}

	if err := protect("say", func() error { return e.backend.Say(text, finished) }); err != nil {
		return nil, err
	}

	e.state.Store(int32(ttypes.EngineSpeaking))
	return done, nil
}

// Step advances the backend one iteration and reports whether it is still
// speaking.
func (e *Engine) Step() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != ttypes.EngineSpeaking {
		return false, nil
	}

	if err := protect("iterate", e.backend.Iterate); err != nil {
		return false, err
	}

	var busy bool
	err := protect("busy", func() error {
		busy = e.backend.Busy()
		return nil
	})
	return busy, err
}

// Finish returns a speaking session to ready after natural completion.
func (e *Engine) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == ttypes.EngineSpeaking {
		e.state.Store(int32(ttypes.EngineReady))
	}
}

// Interrupt abandons the current utterance and returns the session to ready.
func (e *Engine) Interrupt() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != ttypes.EngineSpeaking {
		return nil
	}

	err := protect("interrupt", e.backend.Interrupt)
	e.state.Store(int32(ttypes.EngineReady))
	return err
}

// Kill terminates the backend's external process, if it has one. It does not
// take the engine lock.
func (e *Engine) Kill() error {
	k, ok := e.backend.(ttypes.Killer)
	if !ok {
		return nil
	}
	return protect("kill", k.Kill)
}

// SetRate stores the rate and applies it to an open backend. The caller is
// expected to have validated wpm.
func (e *Engine) SetRate(wpm int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == ttypes.EngineStopped {
		return ErrEngineClosed
	}

	prev := e.rate
	e.rate = wpm
	if e.State() == ttypes.EngineUninitialized {
		return nil
	}

	if err := protect("set rate", func() error { return e.backend.SetRate(wpm) }); err != nil {
		e.rate = prev
		return err
	}
	return nil
}

// Close tears the session down. Only the first call reaches the backend;
// later calls return the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		state := e.State()
		if state == ttypes.EngineSpeaking {
			if err := protect("interrupt", e.backend.Interrupt); err != nil {
				e.logger.Warn("Interrupt during teardown failed", "engine", e.backend.Name(), "error", err)
			}
		}
		if state != ttypes.EngineUninitialized {
			e.closeErr = protect("close", e.backend.Close)
		}

		e.state.Store(int32(ttypes.EngineStopped))
		e.logger.Debug("Engine stopped", "engine", e.backend.Name())
	})
	return e.closeErr
}

// protect runs a backend call and converts a panic into an error.
func protect(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend %s panicked: %v", op, r)
		}
	}()
	return fn()
}
