// Package mock provides a silent synthesis backend for testing.
package mock

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrInterrupted is passed to the finished callback of an interrupted utterance.
var ErrInterrupted = errors.New("mock utterance interrupted")

// MockEngine implements ttypes.Backend and ttypes.Killer without producing
// sound. Each utterance "plays" for a simulated duration.
type MockEngine struct {
	mu sync.Mutex

	// Configuration
	delay time.Duration // Fixed utterance duration, overrides the estimate
	rate  int

	// Control for testing
	openErr      error
	sayErr       error
	iterateErr   error
	failText     string
	hang         bool
	silentFinish bool
	panicOnSay   bool
	killHook     func()

	// State
	opened   bool
	closed   bool
	current  *utterance
	gen      int
	active   int
	maxSeen  int
	openCnt  int
	closeCnt int
	killCnt  int

	// Records
	started     []string
	spoken      []string
	interrupted []string
	rates       []int
}

type utterance struct {
	id       int
	text     string
	timer    *time.Timer
	finished func(error)
}

// New creates a mock engine speaking at 150 words per minute.
func New() *MockEngine {
	return &MockEngine{rate: 150}
}

// Name returns the backend name.
func (e *MockEngine) Name() string {
	return "mock"
}

// Open prepares the mock engine.
func (e *MockEngine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.openCnt++
	if e.openErr != nil {
		return e.openErr
	}
	e.opened = true
	return nil
}

// Say starts a simulated utterance.
func (e *MockEngine) Say(text string, finished func(error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.panicOnSay {
		panic("mock engine panic")
	}
	if !e.opened || e.closed {
		return errors.New("mock engine not open")
	}
	if e.sayErr != nil {
		return e.sayErr
	}

	e.gen++
	u := &utterance{id: e.gen, text: text, finished: finished}
	e.current = u
	e.started = append(e.started, text)
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}

	if e.hang {
		return nil
	}

	d := e.delay
	if d == 0 {
		d = e.estimateDuration(text)
	}
	fail := e.failText != "" && strings.Contains(text, e.failText)
	u.timer = time.AfterFunc(d, func() { e.complete(u, fail) })
	return nil
}

func (e *MockEngine) complete(u *utterance, fail bool) {
	e.mu.Lock()
	if e.current != u {
		e.mu.Unlock()
		return
	}
	e.current = nil
	e.active--
	if !fail {
		e.spoken = append(e.spoken, u.text)
	}
	silent := e.silentFinish
	e.mu.Unlock()

	switch {
	case fail:
		u.finished(errors.New("mock synthesis failed"))
	case !silent:
		u.finished(nil)
	}
}

// Iterate does nothing unless a failure was injected.
func (e *MockEngine) Iterate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iterateErr
}

// Busy reports whether an utterance is playing.
func (e *MockEngine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Interrupt abandons the current utterance.
func (e *MockEngine) Interrupt() error {
	e.stopCurrent()
	return nil
}

// Kill simulates terminating an external speech process.
func (e *MockEngine) Kill() error {
	e.mu.Lock()
	e.killCnt++
	hook := e.killHook
	e.mu.Unlock()

	if hook != nil {
		hook()
	}

	e.stopCurrent()
	return nil
}

func (e *MockEngine) stopCurrent() {
	e.mu.Lock()
	u := e.current
	if u == nil {
		e.mu.Unlock()
		return
	}
	if u.timer != nil {
		u.timer.Stop()
	}
	e.current = nil
	e.active--
	e.interrupted = append(e.interrupted, u.text)
	e.mu.Unlock()

	u.finished(ErrInterrupted)
}

// SetRate records the rate used for later utterances.
func (e *MockEngine) SetRate(wpm int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = wpm
	e.rates = append(e.rates, wpm)
	return nil
}

// Close releases the mock engine.
func (e *MockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCnt++
	e.closed = true
	e.opened = false
	return nil
}

// Test control methods

// SetDelay sets a fixed simulated duration for every utterance.
func (e *MockEngine) SetDelay(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = delay
}

// SetOpenFailure makes Open fail with err.
func (e *MockEngine) SetOpenFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// SetFailure makes Say fail with err.
func (e *MockEngine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sayErr = err
}

// SetIterateFailure makes Iterate fail with err.
func (e *MockEngine) SetIterateFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iterateErr = err
}

// FailOn makes utterances containing text report a failed finish.
func (e *MockEngine) FailOn(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failText = text
}

// SetHang makes utterances never finish on their own.
func (e *MockEngine) SetHang(hang bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hang = hang
}

// SetSilentFinish suppresses the finished callback so completion is only
// visible through Busy.
func (e *MockEngine) SetSilentFinish(silent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silentFinish = silent
}

// SetPanicOnSay makes Say panic.
func (e *MockEngine) SetPanicOnSay(p bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panicOnSay = p
}

// SetKillHook runs fn at the start of every Kill, before the current
// utterance is stopped.
func (e *MockEngine) SetKillHook(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killHook = fn
}

// ClearFailure resets the engine to normal operation.
func (e *MockEngine) ClearFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = nil
	e.sayErr = nil
	e.iterateErr = nil
	e.failText = ""
	e.hang = false
	e.silentFinish = false
	e.panicOnSay = false
}

// Started returns every text submitted with Say.
func (e *MockEngine) Started() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.started...)
}

// Spoken returns every text that finished naturally.
func (e *MockEngine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}

// Interrupted returns every text that was interrupted or killed.
func (e *MockEngine) Interrupted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.interrupted...)
}

// Rates returns every rate passed to SetRate.
func (e *MockEngine) Rates() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.rates...)
}

// Rate returns the current rate.
func (e *MockEngine) Rate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// MaxConcurrent returns the highest number of overlapping utterances seen.
func (e *MockEngine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxSeen
}

// OpenCount returns the number of Open calls.
func (e *MockEngine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openCnt
}

// CloseCount returns the number of Close calls.
func (e *MockEngine) CloseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCnt
}

// KillCount returns the number of Kill calls.
func (e *MockEngine) KillCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killCnt
}

// estimateDuration estimates speaking duration at the current rate.
// Must be called with mu held.
func (e *MockEngine) estimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	rate := e.rate
	if rate <= 0 {
		rate = 150
	}
	seconds := float64(words) * 60.0 / float64(rate)
	return time.Duration(seconds * float64(time.Second))
}
