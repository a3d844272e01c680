package engines

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/ttypes"
)

// DefaultMaxFailures is how many consecutive primary failures trigger the
// switch to the fallback backend.
const DefaultMaxFailures = 3

// Fallback wraps a primary backend with a secondary one. It switches for
// good when the primary cannot be opened or fails maxFailures utterances in
// a row.
type Fallback struct {
	primary     ttypes.Backend
	fallback    ttypes.Backend
	maxFailures int
	logger      *log.Logger

	mu            sync.Mutex
	failures      int
	usingFallback bool
	primaryOpen   bool
	fallbackOpen  bool
	rate          int
	current       *fallbackCall
}

// fallbackCall tracks one utterance so interrupted ones are not counted as
// failures.
type fallbackCall struct {
	interrupted atomic.Bool
}

// NewFallback creates a fallback backend.
func NewFallback(primary, fallback ttypes.Backend, maxFailures int, logger *log.Logger) *Fallback {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fallback{
		primary:     primary,
		fallback:    fallback,
		maxFailures: maxFailures,
		logger:      logger,
	}
}

// Name returns the active backend's name.
func (f *Fallback) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingFallback {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

// UsingFallback reports whether the secondary backend is active.
func (f *Fallback) UsingFallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usingFallback
}

// Open opens the primary, or the fallback if the primary cannot be opened.
func (f *Fallback) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	primaryErr := f.primary.Open()
	if primaryErr == nil {
		f.primaryOpen = true
		return nil
	}

	f.logger.Warn("Primary engine initialization failed, using fallback",
		"primary", f.primary.Name(),
		"fallback", f.fallback.Name(),
		"error", primaryErr)

	if err := f.switchLocked(); err != nil {
		return fmt.Errorf("both engines failed: primary: %w; fallback: %w", primaryErr, err)
	}
	return nil
}

// switchLocked opens the fallback and makes it active. Must be called with
// mu held.
func (f *Fallback) switchLocked() error {
	if !f.fallbackOpen {
		if err := f.fallback.Open(); err != nil {
			return err
		}
		f.fallbackOpen = true
		if f.rate > 0 {
			if err := f.fallback.SetRate(f.rate); err != nil {
				f.logger.Warn("Fallback engine rejected rate", "rate", f.rate, "error", err)
			}
		}
	}
	f.usingFallback = true
	return nil
}

func (f *Fallback) activeLocked() ttypes.Backend {
	if f.usingFallback {
		return f.fallback
	}
	return f.primary
}

// Say speaks on the active backend. A rejected submission on the primary
// counts as a failure and is retried on the fallback once the limit is hit.
func (f *Fallback) Say(text string, finished func(error)) error {
	f.mu.Lock()
	call := &fallbackCall{}
	f.current = call
	using := f.usingFallback
	f.mu.Unlock()

	if using {
		return f.fallback.Say(text, finished)
	}

	// The callback may run synchronously, so mu is not held here.
	err := f.primary.Say(text, func(err error) {
		if err != nil && !call.interrupted.Load() {
			f.recordFailure(err)
		} else if err == nil {
			f.recordSuccess()
		}
		finished(err)
	})
	if err == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures++
	f.logger.Warn("Primary engine failed", "attempt", f.failures, "max", f.maxFailures, "error", err)
	if f.failures < f.maxFailures {
		return err
	}

	f.logger.Warn("Switching to fallback engine", "fallback", f.fallback.Name())
	if serr := f.switchLocked(); serr != nil {
		return fmt.Errorf("both engines failed: primary: %w; fallback: %w", err, serr)
	}
	return f.fallback.Say(text, finished)
}

// recordFailure counts a primary failure reported through the finished
// callback and switches once the limit is reached.
func (f *Fallback) recordFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.usingFallback {
		return
	}
	f.failures++
	f.logger.Warn("Primary engine failed", "attempt", f.failures, "max", f.maxFailures, "error", err)
	if f.failures >= f.maxFailures {
		f.logger.Warn("Switching to fallback engine", "fallback", f.fallback.Name())
		if serr := f.switchLocked(); serr != nil {
			f.logger.Error("Fallback engine unavailable", "error", serr)
		}
	}
}

func (f *Fallback) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.logger.Info("Primary engine recovered", "failures", f.failures)
		f.failures = 0
	}
}

// Iterate advances the active backend.
func (f *Fallback) Iterate() error {
	f.mu.Lock()
	b := f.activeLocked()
	f.mu.Unlock()
	return b.Iterate()
}

// Busy reports whether either backend is speaking.
func (f *Fallback) Busy() bool {
	f.mu.Lock()
	primaryOpen, fallbackOpen := f.primaryOpen, f.fallbackOpen
	f.mu.Unlock()
	return (primaryOpen && f.primary.Busy()) || (fallbackOpen && f.fallback.Busy())
}

// Interrupt stops the current utterance on every opened backend.
func (f *Fallback) Interrupt() error {
	f.markInterrupted()

	f.mu.Lock()
	primaryOpen, fallbackOpen := f.primaryOpen, f.fallbackOpen
	f.mu.Unlock()

	var errs []error
	if primaryOpen {
		errs = append(errs, f.primary.Interrupt())
	}
	if fallbackOpen {
		errs = append(errs, f.fallback.Interrupt())
	}
	return errors.Join(errs...)
}

// Kill kills the current utterance on whichever backends support it.
func (f *Fallback) Kill() error {
	f.markInterrupted()
	var errs []error
	for _, b := range []ttypes.Backend{f.primary, f.fallback} {
		if k, ok := b.(ttypes.Killer); ok {
			errs = append(errs, k.Kill())
		}
	}
	return errors.Join(errs...)
}

func (f *Fallback) markInterrupted() {
	f.mu.Lock()
	call := f.current
	f.mu.Unlock()
	if call != nil {
		call.interrupted.Store(true)
	}
}

// SetRate applies the rate to every opened backend and remembers it for the
// fallback.
func (f *Fallback) SetRate(wpm int) error {
	// Backends are called without mu: their finished callbacks take it.
	f.mu.Lock()
	f.rate = wpm
	primaryOpen, fallbackOpen := f.primaryOpen, f.fallbackOpen
	f.mu.Unlock()

	var errs []error
	if primaryOpen {
		errs = append(errs, f.primary.SetRate(wpm))
	}
	if fallbackOpen {
		errs = append(errs, f.fallback.SetRate(wpm))
	}
	return errors.Join(errs...)
}

// Close closes every opened backend.
func (f *Fallback) Close() error {
	f.mu.Lock()
	primaryOpen, fallbackOpen := f.primaryOpen, f.fallbackOpen
	f.primaryOpen, f.fallbackOpen = false, false
	f.mu.Unlock()

	var errs []error
	if primaryOpen {
		errs = append(errs, f.primary.Close())
	}
	if fallbackOpen {
		errs = append(errs, f.fallback.Close())
	}
	return errors.Join(errs...)
}
