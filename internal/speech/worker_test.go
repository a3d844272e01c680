package speech

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/engines/mock"
	"github.com/readaloud/readaloud/internal/queue"
	"github.com/readaloud/readaloud/internal/ttypes"
)

func newTestWorker(backend ttypes.Backend) (*Worker, *queue.UtteranceQueue) {
	logger := log.New(io.Discard)
	q := queue.New()
	w := NewWorker(q, NewEngine(backend, 0, logger), WorkerOptions{
		PollInterval:   5 * time.Millisecond,
		DequeueTimeout: 50 * time.Millisecond,
		StopTimeout:    2 * time.Second,
		Logger:         logger,
	})
	return w, q
}

func TestWorker_SlowKillDoesNotReachNextUtterance(t *testing.T) {
	backend := mock.New()
	backend.SetDelay(30 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backend.SetKillHook(func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	w, q := newTestWorker(backend)
	defer w.Stop(false)
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	for _, text := range []string{"First.", "Second."} {
		if _, err := q.Enqueue(text, "s"); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, "first utterance", func() bool {
		u, ok := w.Current()
		return ok && u.Text == "First."
	})

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		w.Cancel()
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("Kill was never called")
	}

	// First finishes on its own while the kill is still in flight.
	time.Sleep(150 * time.Millisecond)
	if started := backend.Started(); len(started) != 1 {
		t.Fatalf("Next utterance started before the kill returned: %q", started)
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return")
	}

	waitFor(t, 2*time.Second, "second utterance", func() bool {
		spoken := backend.Spoken()
		return len(spoken) == 2 && spoken[1] == "Second."
	})
	if interrupted := backend.Interrupted(); len(interrupted) != 0 {
		t.Errorf("Kill reached a later utterance: %q", interrupted)
	}
	if failed := w.Stats().Failed; failed != 0 {
		t.Errorf("Expected no failures, got %d", failed)
	}
}

var errExit = errors.New("exit status 1")

// exitBackend reports a failed exit status just as it turns idle, the way a
// speech command does when its process exits between poll ticks.
type exitBackend struct {
	plainBackend

	mu       sync.Mutex
	finished func(error)
}

func (b *exitBackend) Say(_ string, finished func(error)) error {
	b.mu.Lock()
	b.finished = finished
	b.mu.Unlock()
	return nil
}

func (b *exitBackend) Busy() bool {
	b.mu.Lock()
	finished := b.finished
	b.finished = nil
	b.mu.Unlock()
	if finished != nil {
		finished(errExit)
	}
	return false
}

func TestWorker_ExitStatusSeenOnIdlePoll(t *testing.T) {
	w, q := newTestWorker(&exitBackend{})
	defer w.Stop(false)

	if _, err := q.Enqueue("Broken.", "s"); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, time.Second, "failed utterance", func() bool {
		return w.Stats().Failed == 1
	})
	if spoken := w.Stats().Spoken; spoken != 0 {
		t.Errorf("Failed exit counted as spoken: %d", spoken)
	}
}
