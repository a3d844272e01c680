// Package lifecycle coordinates graceful shutdown of long-lived components
// on SIGINT and SIGTERM.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultShutdownTimeout bounds the graceful phase of Shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Component is something that needs cleanup on shutdown.
type Component interface {
	// Name returns the component name for logging
	Name() string

	// Shutdown performs graceful shutdown
	Shutdown(ctx context.Context) error

	// ForceStop performs immediate termination if graceful shutdown fails
	ForceStop() error
}

// Manager shuts registered components down in reverse registration order.
type Manager struct {
	mu          sync.Mutex
	components  []Component
	isShutdown  bool
	interrupt   func() bool
	timeout     time.Duration
	sigCh       chan os.Signal
	shutdownCh  chan struct{}
	done        chan struct{}
	shutdownErr error
	wg          sync.WaitGroup
	logger      *log.Logger
}

// NewManager creates a manager. A zero timeout selects
// DefaultShutdownTimeout.
func NewManager(timeout time.Duration, logger *log.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		timeout:    timeout,
		sigCh:      make(chan os.Signal, 2),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Register adds a component. Components registered after shutdown began are
// ignored.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isShutdown {
		m.logger.Warn("Cannot register component during shutdown", "component", c.Name())
		return
	}
	m.components = append(m.components, c)
	m.logger.Debug("Registered lifecycle component", "name", c.Name())
}

// OnInterrupt sets a handler consulted on SIGINT. When it returns true the
// signal is consumed, e.g. to cancel the current utterance, and shutdown is
// not started.
func (m *Manager) OnInterrupt(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupt = fn
}

// Start begins monitoring for shutdown signals.
func (m *Manager) Start() {
	signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM)
	m.wg.Add(1)
	go m.monitorSignals()
}

func (m *Manager) monitorSignals() {
	defer m.wg.Done()
	defer signal.Stop(m.sigCh)

	for {
		select {
		case sig := <-m.sigCh:
			if sig == os.Interrupt && m.interrupted() {
				m.logger.Debug("Interrupt consumed")
				continue
			}
			m.logger.Info("Received shutdown signal", "signal", sig)
			go func() { _ = m.Shutdown() }()
			m.forceOnSecondSignal()
			return
		case <-m.shutdownCh:
			m.logger.Debug("Shutdown initiated programmatically")
			m.forceOnSecondSignal()
			return
		}
	}
}

// forceOnSecondSignal force-stops every component if another signal arrives
// before shutdown completes.
func (m *Manager) forceOnSecondSignal() {
	select {
	case sig := <-m.sigCh:
		m.logger.Warn("Received second signal, forcing stop", "signal", sig)
		m.forceAll()
	case <-m.done:
	}
}

func (m *Manager) interrupted() bool {
	m.mu.Lock()
	fn := m.interrupt
	m.mu.Unlock()
	return fn != nil && fn()
}

// ShuttingDown is closed once shutdown begins.
func (m *Manager) ShuttingDown() <-chan struct{} {
	return m.shutdownCh
}

// Shutdown performs graceful shutdown of all components, force-stopping any
// that fail. Only the first call does the work; later calls wait for it.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.isShutdown {
		m.mu.Unlock()
		<-m.done
		return m.shutdownErr
	}
	m.isShutdown = true
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	m.logger.Debug("Starting graceful shutdown", "components", len(components))
	close(m.shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var failed int
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		m.logger.Debug("Shutting down component", "name", c.Name())

		if err := c.Shutdown(ctx); err != nil {
			m.logger.Warn("Component graceful shutdown failed", "name", c.Name(), "error", err)

			if forceErr := c.ForceStop(); forceErr != nil {
				m.logger.Error("Component force stop failed", "name", c.Name(), "error", forceErr)
				failed++
			}
		}
	}

	if failed > 0 {
		m.shutdownErr = fmt.Errorf("shutdown completed with %d errors", failed)
	}
	m.logger.Debug("Graceful shutdown complete")
	close(m.done)
	return m.shutdownErr
}

func (m *Manager) forceAll() {
	m.mu.Lock()
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	for _, c := range components {
		if err := c.ForceStop(); err != nil {
			m.logger.Error("Component force stop failed", "name", c.Name(), "error", err)
		}
	}
}

// Wait blocks until shutdown is complete and returns its result.
func (m *Manager) Wait() error {
	<-m.done
	m.wg.Wait()
	return m.shutdownErr
}

// Done is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Closer adapts a close function, such as the audio cache's, to Component.
type Closer struct {
	name string
	fn   func() error
}

// NewCloser creates a component that calls fn on shutdown.
func NewCloser(name string, fn func() error) *Closer {
	return &Closer{name: name, fn: fn}
}

// Name returns the component name.
func (c *Closer) Name() string {
	return c.name
}

// Shutdown calls the close function.
func (c *Closer) Shutdown(context.Context) error {
	return c.fn()
}

// ForceStop does nothing; a failed close is not retried.
func (c *Closer) ForceStop() error {
	return nil
}
