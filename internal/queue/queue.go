package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/readaloud/readaloud/internal/ttypes"
)

// ErrQueueClosed is returned when operations are attempted on a closed queue
var ErrQueueClosed = errors.New("queue is closed")

// UtteranceQueue is an unbounded FIFO of utterances shared by any number of
// producers and a single consumer. Enqueue never blocks.
type UtteranceQueue struct {
	items []ttypes.Utterance

	// Sequence numbers are assigned under mu, so Seq order is FIFO order
	nextSeq uint64

	// Items enqueued but not yet marked done
	unfinished int

	// Synchronization. wake is closed and replaced on every state change
	// so waiters never miss a notification.
	mu   sync.Mutex
	wake chan struct{}

	closed bool
	stats  Stats
}

// Stats tracks queue metrics
type Stats struct {
	TotalEnqueued  int64
	TotalDequeued  int64
	TotalDiscarded int64
	CurrentSize    int
	PeakSize       int
	LastEnqueue    time.Time
	LastDequeue    time.Time
}

// New creates an empty queue.
func New() *UtteranceQueue {
	return &UtteranceQueue{
		wake: make(chan struct{}),
	}
}

// Enqueue appends text to the tail of the queue and returns the resulting
// utterance. On a closed queue the utterance is returned with ErrQueueClosed
// and is not queued.
func (q *UtteranceQueue) Enqueue(text, session string) (ttypes.Utterance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	u := ttypes.Utterance{
		Text:     text,
		Session:  session,
		Enqueued: time.Now(),
	}
	if q.closed {
		return u, ErrQueueClosed
	}

	q.nextSeq++
	u.Seq = q.nextSeq
	q.items = append(q.items, u)
	q.unfinished++

	q.stats.TotalEnqueued++
	q.stats.LastEnqueue = u.Enqueued
	if len(q.items) > q.stats.PeakSize {
		q.stats.PeakSize = len(q.items)
	}

	q.broadcast()
	return u, nil
}

// Dequeue removes the head of the queue, waiting up to timeout for an item.
// It returns false on timeout, when ctx is done, or when the queue is closed
// and empty. Items already queued are returned even if ctx is done.
func (q *UtteranceQueue) Dequeue(ctx context.Context, timeout time.Duration) (ttypes.Utterance, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = ttypes.Utterance{}
			q.items = q.items[1:]

			q.stats.TotalDequeued++
			q.stats.LastDequeue = time.Now()
			q.mu.Unlock()
			return u, true
		}
		if q.closed || ctx.Err() != nil {
			q.mu.Unlock()
			return ttypes.Utterance{}, false
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return ttypes.Utterance{}, false
		case <-ctx.Done():
		}
	}
}

// Done marks one dequeued utterance as fully processed.
func (q *UtteranceQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished > 0 {
		q.unfinished--
	}
	if q.unfinished == 0 {
		q.broadcast()
	}
}

// Drain blocks until every enqueued utterance has been dequeued and marked
// done. It returns false if ctx ends first.
func (q *UtteranceQueue) Drain(ctx context.Context) bool {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return true
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return false
		}
	}
}

// Discard drops every pending utterance and returns how many were dropped.
// Discarded utterances count as done.
func (q *UtteranceQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return 0
	}

	q.items = nil
	q.unfinished -= n
	if q.unfinished < 0 {
		q.unfinished = 0
	}
	q.stats.TotalDiscarded += int64(n)

	q.broadcast()
	return n
}

// Len returns the number of pending utterances.
func (q *UtteranceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues and wakes all waiters. Pending utterances
// can still be dequeued.
func (q *UtteranceQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// Stats returns a snapshot of queue metrics.
func (q *UtteranceQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.CurrentSize = len(q.items)
	return s
}

// broadcast must be called with mu held.
func (q *UtteranceQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}
