package speech

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/queue"
	"github.com/readaloud/readaloud/internal/ttypes"
	"github.com/readaloud/readaloud/utils"
)

// Worker timing defaults.
const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultDequeueTimeout = time.Second
	DefaultStopTimeout    = 30 * time.Second

	// utteranceGrace is added to the estimated duration when deriving the
	// per-utterance safety timeout.
	utteranceGrace = 10 * time.Second
)

// WorkerOptions tunes the worker loop. Zero values select the defaults.
type WorkerOptions struct {
	PollInterval     time.Duration
	DequeueTimeout   time.Duration
	StopTimeout      time.Duration
	UtteranceTimeout time.Duration
	Logger           *log.Logger
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = DefaultDequeueTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// WorkerStats counts utterance outcomes.
type WorkerStats struct {
	Spoken    int64
	Cancelled int64
	Failed    int64
	TimedOut  int64
}

// Worker is the single consumer of the utterance queue. It speaks one
// utterance at a time through the engine.
type Worker struct {
	queue  *queue.UtteranceQueue
	engine *Engine
	opts   WorkerOptions
	logger *log.Logger

	// mu serializes Start and Stop
	mu    sync.Mutex
	state atomic.Int32 // ttypes.WorkerState

	ctx   context.Context
	stop  context.CancelFunc
	drain atomic.Bool
	done  chan struct{}

	// killMu is held by Cancel across Kill and by the worker while it
	// switches utterances.
	killMu  sync.Mutex
	current atomic.Pointer[job]

	spoken    atomic.Int64
	cancelled atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

// job is one utterance in flight. cancel is closed once, after the speech
// process has been killed.
type job struct {
	u         ttypes.Utterance
	cancelled atomic.Bool
	cancel    chan struct{}
}

// NewWorker creates an idle worker over q and engine.
func NewWorker(q *queue.UtteranceQueue, engine *Engine, opts WorkerOptions) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		queue:  q,
		engine: engine,
		opts:   opts,
		logger: opts.Logger,
	}
}

// State returns the lifecycle state.
func (w *Worker) State() ttypes.WorkerState {
	return ttypes.WorkerState(w.state.Load())
}

// Current returns the utterance being spoken, if any.
func (w *Worker) Current() (ttypes.Utterance, bool) {
	j := w.current.Load()
	if j == nil {
		return ttypes.Utterance{}, false
	}
	return j.u, true
}

// Stats returns utterance outcome counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Spoken:    w.spoken.Load(),
		Cancelled: w.cancelled.Load(),
		Failed:    w.failed.Load(),
		TimedOut:  w.timedOut.Load(),
	}
}

// Start opens the engine and launches the worker goroutine. Calling Start on
// a running worker is a no-op. If the engine cannot be opened the error is
// returned and the worker stays idle.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case ttypes.WorkerRunning:
		return nil
	case ttypes.WorkerDraining, ttypes.WorkerStopped:
		return ErrWorkerStopped
	}

	if err := w.engine.Open(); err != nil {
		w.logger.Error("Failed to initialize speech engine", "engine", w.engine.Name(), "error", err)
		return err
	}

	w.ctx, w.stop = context.WithCancel(context.Background())
	w.done = make(chan struct{})
	w.state.Store(int32(ttypes.WorkerRunning))

	go w.run(w.ctx, w.done)

	w.logger.Info("Speech worker started", "engine", w.engine.Name())
	return nil
}

// Stop shuts the worker down. With drain the queued backlog is spoken first;
// without it the backlog is discarded and the current utterance cancelled.
// The engine is torn down exactly once. Stop waits at most the configured
// stop timeout; on expiry it forces teardown and returns a shutdown timeout
// error. Stopping a stopped worker is a no-op.
func (w *Worker) Stop(drain bool) error {
	w.mu.Lock()

	switch w.State() {
	case ttypes.WorkerStopped:
		w.mu.Unlock()
		return nil

	case ttypes.WorkerIdle:
		w.queue.Close()
		if n := w.queue.Discard(); n > 0 {
			w.logger.Debug("Discarded queued utterances", "count", n)
		}
		if err := w.engine.Close(); err != nil {
			w.logger.Warn("Engine teardown failed", "engine", w.engine.Name(), "error", err)
		}
		w.state.Store(int32(ttypes.WorkerStopped))
		w.mu.Unlock()
		return nil

	case ttypes.WorkerDraining:
		// Another caller is already stopping; wait alongside it.
		done := w.done
		w.mu.Unlock()
		return w.join(done)
	}

	w.state.Store(int32(ttypes.WorkerDraining))
	w.drain.Store(drain)
	w.queue.Close()
	w.stop()
	if !drain {
		if n := w.queue.Discard(); n > 0 {
			w.logger.Debug("Discarded queued utterances", "count", n)
		}
		w.Cancel()
	}
	done := w.done
	w.mu.Unlock()

	w.logger.Debug("Stopping speech worker", "drain", drain)
	return w.join(done)
}

// join waits for the worker goroutine and finalizes the stopped state.
func (w *Worker) join(done <-chan struct{}) error {
	timer := time.NewTimer(w.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		w.queue.Discard()
		w.state.Store(int32(ttypes.WorkerStopped))
		w.logger.Info("Speech worker stopped", "engine", w.engine.Name())
		return nil

	case <-timer.C:
		err := NewSpeechError(ErrorCodeShutdownTimeout, "speech worker did not exit", nil).
			WithContext("timeout", w.opts.StopTimeout)
		w.logger.Error("Speech worker shutdown timed out, forcing teardown", "timeout", w.opts.StopTimeout)

		w.Cancel()
		w.queue.Discard()
		w.forceClose()
		w.state.Store(int32(ttypes.WorkerStopped))
		return err
	}
}

// forceClose tears the engine down without waiting on a wedged worker for
// longer than a second.
func (w *Worker) forceClose() {
	if err := w.engine.Kill(); err != nil {
		w.logger.Warn("Failed to kill speech process", "error", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- w.engine.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			w.logger.Warn("Engine teardown failed", "engine", w.engine.Name(), "error", err)
		}
	case <-time.After(time.Second):
		w.logger.Error("Engine teardown blocked; abandoning it", "engine", w.engine.Name())
	}
}

// Cancel interrupts the utterance being spoken. It may be called from any
// goroutine and is a no-op when nothing is being spoken. The utterance is
// not re-queued.
func (w *Worker) Cancel() {
	w.killMu.Lock()
	defer w.killMu.Unlock()

	j := w.current.Load()
	if j == nil || !j.cancelled.CompareAndSwap(false, true) {
		return
	}

	// Kill before waking the worker so it cannot reach the next utterance
	// while the kill is still pending.
	if err := w.engine.Kill(); err != nil {
		w.logger.Warn("Failed to kill speech process", "seq", j.u.Seq, "error", err)
	}
	close(j.cancel)
	w.logger.Debug("Cancel requested", "seq", j.u.Seq)
}

// SetRate validates wpm and applies it under the engine lock. Invalid rates
// return a configuration error and the previous rate stays in effect. A
// backend that rejects a valid rate is logged, not reported.
func (w *Worker) SetRate(wpm int) error {
	if err := ValidateRate(wpm); err != nil {
		w.logger.Warn("Rejected speaking rate", "rate", wpm)
		return err
	}
	if err := w.engine.SetRate(wpm); err != nil {
		w.logger.Warn("Engine did not accept rate", "engine", w.engine.Name(), "rate", wpm, "error", err)
		return nil
	}
	w.logger.Debug("Speaking rate updated", "rate", wpm)
	return nil
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := w.engine.Close(); err != nil {
			w.logger.Warn("Engine teardown failed", "engine", w.engine.Name(), "error", err)
		}
	}()

	for {
		if ctx.Err() != nil && (!w.drain.Load() || w.queue.Len() == 0) {
			return
		}

		u, ok := w.queue.Dequeue(ctx, w.opts.DequeueTimeout)
		if !ok {
			continue
		}

		if ctx.Err() != nil && !w.drain.Load() {
			w.queue.Done()
			continue
		}

		w.speak(ctx, u)
		w.queue.Done()
	}
}

// speak drives one utterance to completion, cancellation, failure or
// timeout. The engine lock is only held inside each engine call.
func (w *Worker) speak(ctx context.Context, u ttypes.Utterance) {
	j := &job{u: u, cancel: make(chan struct{})}
	w.setCurrent(j)
	defer w.setCurrent(nil)

	// A discarding stop that raced with the dequeue may have missed this
	// utterance in Cancel.
	if ctx.Err() != nil && !w.drain.Load() {
		return
	}

	w.logger.Debug("Speaking", "seq", u.Seq, "text", utils.Preview(u.Text, 50))

	finished, err := w.engine.Speak(u.Text)
	if err != nil {
		w.stepFailed(u, "submit", err)
		return
	}

	deadline := time.NewTimer(w.utteranceTimeout(u))
	defer deadline.Stop()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-finished:
			w.engine.Finish()
			switch {
			case j.cancelled.Load():
				w.abandon(u)
			case err != nil:
				w.stepFailed(u, "finish", err)
			default:
				w.spoken.Add(1)
				w.logger.Debug("Finished speaking", "seq", u.Seq)
			}
			return

		case <-j.cancel:
			w.abandon(u)
			return

		case <-ticker.C:
			if j.cancelled.Load() {
				w.abandon(u)
				return
			}
			busy, err := w.engine.Step()
			if err != nil {
				w.stepFailed(u, "iterate", err)
				if ierr := w.engine.Interrupt(); ierr != nil {
					w.logger.Warn("Interrupt after failure failed", "seq", u.Seq, "error", ierr)
				}
				return
			}
			if !busy {
				// an exit status delivered just before the backend went idle
				var ferr error
				select {
				case ferr = <-finished:
				default:
				}
				w.engine.Finish()
				if ferr != nil {
					w.stepFailed(u, "finish", ferr)
					return
				}
				w.spoken.Add(1)
				w.logger.Debug("Finished speaking", "seq", u.Seq)
				return
			}

		case <-deadline.C:
			w.timedOut.Add(1)
			w.logger.Warn("Utterance did not finish in time, interrupting",
				"seq", u.Seq,
				"error", ErrUtteranceTimeout)
			if err := w.engine.Interrupt(); err != nil {
				w.logger.Warn("Interrupt after timeout failed", "seq", u.Seq, "error", err)
			}
			return
		}
	}
}

func (w *Worker) setCurrent(j *job) {
	w.killMu.Lock()
	w.current.Store(j)
	w.killMu.Unlock()
}

func (w *Worker) abandon(u ttypes.Utterance) {
	if err := w.engine.Interrupt(); err != nil {
		w.logger.Warn("Interrupt failed", "seq", u.Seq, "error", err)
	}
	w.cancelled.Add(1)
	w.logger.Info("Utterance cancelled", "seq", u.Seq)
}

func (w *Worker) stepFailed(u ttypes.Utterance, op string, cause error) {
	w.failed.Add(1)
	err := NewSpeechError(ErrorCodeSynthesisStep, op+" failed", cause).WithContext("seq", u.Seq)
	w.logger.Error("Dropping utterance", "seq", u.Seq, "text", utils.Preview(u.Text, 50), "error", err)
}

func (w *Worker) utteranceTimeout(u ttypes.Utterance) time.Duration {
	if w.opts.UtteranceTimeout > 0 {
		return w.opts.UtteranceTimeout
	}
	return 3*EstimateDuration(u.Text, w.engine.Rate()) + utteranceGrace
}
