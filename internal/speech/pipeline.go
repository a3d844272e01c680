package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/readaloud/readaloud/internal/chunker"
	"github.com/readaloud/readaloud/internal/queue"
	"github.com/readaloud/readaloud/internal/ttypes"
	"github.com/readaloud/readaloud/utils"
	"golang.org/x/text/unicode/norm"
)

// Config holds pipeline settings. Zero values select the defaults.
type Config struct {
	// ChunkSize is the maximum utterance length in runes
	ChunkSize int

	// Rate is the initial speaking rate in words per minute
	Rate int

	// StripMarkdown converts markdown syntax to plain speech text
	StripMarkdown bool

	PollInterval     time.Duration
	DequeueTimeout   time.Duration
	StopTimeout      time.Duration
	UtteranceTimeout time.Duration

	Logger *log.Logger
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      chunker.DefaultLimit,
		Rate:           DefaultRate,
		StripMarkdown:  true,
		PollInterval:   DefaultPollInterval,
		DequeueTimeout: DefaultDequeueTimeout,
		StopTimeout:    DefaultStopTimeout,
	}
}

// Stats is a snapshot of pipeline activity.
type Stats struct {
	Worker WorkerStats
	Queue  queue.Stats
}

// Pipeline is the producer-facing entry point: text goes in through Submit,
// SubmitStream or a Stream and is spoken in order by a single worker.
// All methods are safe for concurrent use.
type Pipeline struct {
	queue  *queue.UtteranceQueue
	engine *Engine
	worker *Worker

	chunkSize     int
	stripMarkdown bool
	logger        *log.Logger
}

// NewPipeline creates an idle pipeline around backend. Call Start to begin
// speaking; text submitted before that waits in the queue.
func NewPipeline(backend ttypes.Backend, cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("speech")

	q := queue.New()
	engine := NewEngine(backend, cfg.Rate, logger)
	worker := NewWorker(q, engine, WorkerOptions{
		PollInterval:     cfg.PollInterval,
		DequeueTimeout:   cfg.DequeueTimeout,
		StopTimeout:      cfg.StopTimeout,
		UtteranceTimeout: cfg.UtteranceTimeout,
		Logger:           logger,
	})

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultLimit
	}

	return &Pipeline{
		queue:         q,
		engine:        engine,
		worker:        worker,
		chunkSize:     chunkSize,
		stripMarkdown: cfg.StripMarkdown,
		logger:        logger,
	}
}

// Name returns the component name for lifecycle logging.
func (p *Pipeline) Name() string {
	return "speech pipeline (" + p.engine.Name() + ")"
}

// Start opens the engine and starts the worker. It is idempotent while
// running and returns an engine init error if the backend cannot be opened.
func (p *Pipeline) Start() error {
	return p.worker.Start()
}

// Stop shuts the pipeline down, speaking the backlog first if drain is set.
func (p *Pipeline) Stop(drain bool) error {
	return p.worker.Stop(drain)
}

// Cancel interrupts the current utterance. The rest of the queue is kept.
func (p *Pipeline) Cancel() {
	p.worker.Cancel()
}

// Skip drops the backlog and interrupts the current utterance. It returns
// the number of queued utterances dropped.
func (p *Pipeline) Skip() int {
	n := p.queue.Discard()
	p.worker.Cancel()
	if n > 0 {
		p.logger.Debug("Skipped backlog", "dropped", n)
	}
	return n
}

// Speaking reports whether an utterance is being spoken or waiting.
func (p *Pipeline) Speaking() bool {
	if _, ok := p.worker.Current(); ok {
		return true
	}
	return p.queue.Len() > 0
}

// SetRate changes the speaking rate. Only an out-of-range value is reported.
func (p *Pipeline) SetRate(wpm int) error {
	return p.worker.SetRate(wpm)
}

// Rate returns the current speaking rate.
func (p *Pipeline) Rate() int {
	return p.engine.Rate()
}

// State returns the worker lifecycle state.
func (p *Pipeline) State() ttypes.WorkerState {
	return p.worker.State()
}

// EngineState returns the engine session state.
func (p *Pipeline) EngineState() ttypes.EngineState {
	return p.engine.State()
}

// Stats returns a snapshot of worker and queue counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Worker: p.worker.Stats(),
		Queue:  p.queue.Stats(),
	}
}

// Wait blocks until everything submitted so far has been spoken, cancelled
// or dropped. It returns false if ctx ends first.
func (p *Pipeline) Wait(ctx context.Context) bool {
	return p.queue.Drain(ctx)
}

// Submit chunks text and enqueues the resulting utterances. It never blocks
// and returns the number of utterances enqueued.
func (p *Pipeline) Submit(text string) int {
	s := p.NewStream()
	_, _ = s.WriteString(text)
	_ = s.Close()
	return s.Count()
}

// SubmitStream consumes fragments until the channel closes or ctx is done,
// enqueueing each sentence as soon as it is complete. The trailing partial
// sentence is flushed at the end. It returns the number of utterances
// enqueued.
func (p *Pipeline) SubmitStream(ctx context.Context, fragments <-chan string) int {
	s := p.NewStream()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return s.Count()
		case f, ok := <-fragments:
			if !ok {
				_ = s.Close()
				return s.Count()
			}
			_, _ = s.WriteString(f)
		}
	}
}

// NewStream opens a producer session with its own chunker.
func (p *Pipeline) NewStream() *Stream {
	return &Stream{
		p:       p,
		session: uuid.NewString(),
		chunker: chunker.New(p.chunkSize),
	}
}

// Shutdown stops the pipeline for the lifecycle manager, discarding the
// backlog.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.Stop(false) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceStop kills any speech process and releases the engine immediately.
func (p *Pipeline) ForceStop() error {
	p.worker.Cancel()
	p.queue.Close()
	p.queue.Discard()
	return errors.Join(p.engine.Kill(), p.engine.Close())
}

// enqueue prepares units and adds them to the queue under session.
func (p *Pipeline) enqueue(session string, units []string) int {
	n := 0
	for _, unit := range units {
		text := p.prepare(unit)
		if text == "" {
			continue
		}
		u, err := p.queue.Enqueue(text, session)
		if err != nil {
			p.logger.Debug("Dropped utterance after shutdown", "text", utils.Preview(text, 50), "error", err)
			continue
		}
		p.logger.Debug("Queued utterance", "seq", u.Seq, "session", session, "text", utils.Preview(text, 50))
		n++
	}
	return n
}

func (p *Pipeline) prepare(unit string) string {
	if p.stripMarkdown {
		unit = chunker.Plain(unit)
	}
	return strings.TrimSpace(norm.NFC.String(unit))
}
