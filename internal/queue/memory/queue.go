// Package memory provides the in-process crawl frontier queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

var (
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueDrained is returned when nothing is pending and nothing is in
	// flight, so no further entry can ever arrive.
	ErrQueueDrained = errors.New("queue drained")
)

// KeyFunc maps an entry URL to its deduplication identity.
type KeyFunc func(rawURL string) (string, error)

// Queue is a FIFO multi-producer multi-consumer frontier. Every popped entry
// counts as in flight until the consumer calls Done or Requeue, which is how
// Pop tells an empty-for-now queue from a drained one.
type Queue struct {
	mu       sync.Mutex
	pending  []crawler.Entry
	seen     map[string]struct{}
	inFlight int
	closed   bool
	changed  chan struct{}
	key      KeyFunc
}

// NewQueue constructs an empty queue. A nil key uses the raw URL.
func NewQueue(key KeyFunc) *Queue {
	if key == nil {
		key = func(rawURL string) (string, error) { return rawURL, nil }
	}
	return &Queue{
		seen:    make(map[string]struct{}),
		changed: make(chan struct{}),
		key:     key,
	}
}

// Push enqueues entry unless its identity was pushed before. It reports
// whether the entry was added.
func (q *Queue) Push(entry crawler.Entry) (bool, error) {
	id, err := q.key(entry.URL)
	if err != nil {
		return false, fmt.Errorf("queue key: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}
	if _, dup := q.seen[id]; dup {
		return false, nil
	}
	q.seen[id] = struct{}{}
	q.pending = append(q.pending, entry)
	q.broadcastLocked()
	return true, nil
}

// Pop blocks until an entry is available, the queue drains, the queue is
// closed or ctx ends.
func (q *Queue) Pop(ctx context.Context) (crawler.Entry, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return crawler.Entry{}, ErrQueueClosed
		}
		if len(q.pending) > 0 {
			entry := q.pending[0]
			q.pending[0] = crawler.Entry{}
			q.pending = q.pending[1:]
			q.inFlight++
			q.mu.Unlock()
			return entry, nil
		}
		if q.inFlight == 0 {
			q.mu.Unlock()
			return crawler.Entry{}, ErrQueueDrained
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.Entry{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Requeue puts an in-flight entry back at the tail without consulting the
// dedup set. Used for retries.
func (q *Queue) Requeue(entry crawler.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	if q.closed {
		q.broadcastLocked()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, entry)
	q.broadcastLocked()
	return nil
}

// Done marks one popped entry as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	q.broadcastLocked()
}

// Close wakes every waiting consumer and rejects further pushes. Pending
// entries are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	q.broadcastLocked()
}

// Len reports pending and in-flight counts.
func (q *Queue) Len() (pending, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.inFlight
}

// Seen reports how many distinct identities were ever pushed.
func (q *Queue) Seen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seen)
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
