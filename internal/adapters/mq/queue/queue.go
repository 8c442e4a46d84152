// Package queue carries anomaly events and capture records from the
// controller loops to the publisher workers.
//
// Enqueue never blocks: an inference loop must not stall behind a slow sink,
// so a full queue rejects the envelope and the caller counts the drop.
package queue

import (
	"context"
	"sync"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
)

// Envelope is the payload type flowing through the queue.
type Envelope = model.Envelope

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an envelope to the queue.
	// Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, e Envelope) bool

	// Dequeue returns a channel that receives envelopes as they become available.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Envelope

	// Len returns the current number of queued envelopes.
	Len(ctx context.Context) int

	// Close stops accepting envelopes. Queued ones remain available to Dequeue.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	envelopes chan Envelope
	capacity  int
	mu        sync.RWMutex
	closed    bool
}

// Option tunes an InMemoryQueue at construction.
type Option func(*InMemoryQueue)

// WithCapacity bounds the number of buffered envelopes. Non-positive values
// keep the default.
func WithCapacity(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// NewInMemoryQueue returns an open queue sized by the given options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}

	for _, opt := range opts {
		opt(q)
	}

	q.envelopes = make(chan Envelope, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Capacity returns the maximum number of queued envelopes.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Enqueue adds an envelope to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Envelope) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.reject("closed")
		return false
	}
	if ctx.Err() != nil {
		q.reject("context_cancelled")
		return false
	}

	select {
	case q.envelopes <- e:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return true
	default:
		q.reject("queue_full")
		return false
	}
}

func (q *InMemoryQueue) reject(reason string) {
	metrics.RecordQueueRejected(reason)
	metrics.RecordErrorByComponent("queue", reason)
}

func (q *InMemoryQueue) updateGauges() {
	size := len(q.envelopes)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Dequeue returns a channel that will receive envelopes as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Envelope {
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for e := range q.envelopes {
			select {
			case out <- e:
				metrics.RecordQueueDequeue()
				q.updateGauges()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued envelopes.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	q.updateGauges()
	return len(q.envelopes)
}

// Close stops accepting envelopes.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.envelopes)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
