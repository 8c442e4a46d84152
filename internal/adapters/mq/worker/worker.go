// Package worker runs the publisher workers that hand queued envelopes to the
// configured sinks.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 2
	poolShutdownTimeout = 10 * time.Second
)

// Sink receives every dequeued envelope.
type Sink interface {
	Write(ctx context.Context, e model.Envelope) error
}

// Queue defines how workers receive envelopes.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Envelope
}

// Worker publishes envelopes until its channel closes or ctx is canceled.
type Worker struct {
	queue Queue
	sink  Sink
	name  string

	processed *atomic.Uint64
	failed    *atomic.Uint64

	done   chan struct{}
	logger logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(queue Queue, sink Sink, opts ...Option) *Worker {
	w := &Worker{
		queue:     queue,
		sink:      sink,
		name:      "publisher",
		processed: &atomic.Uint64{},
		failed:    &atomic.Uint64{},
		done:      make(chan struct{}),
		logger:    logger.Get().Named("publisher"),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logger.String("worker", w.name))

	return w
}

// Run consumes the queue. The queue being closed and drained ends the loop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	envelopes := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-envelopes:
			if !ok {
				return
			}
			if err := w.publish(ctx, e); err != nil {
				w.logger.Error(ctx, "error publishing envelope", logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) publish(ctx context.Context, e model.Envelope) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.sink.Write(ctx, e); err != nil {
		w.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("publisher", "sink_error")
		return fmt.Errorf("publish %s for %s: %w", e.Kind, e.TurbineID(), err)
	}
	w.processed.Add(1)
	return nil
}

// Pool manages multiple publisher workers over one queue.
type Pool struct {
	workers []*Worker
	queue   Queue

	processed atomic.Uint64
	failed    atomic.Uint64

	cancel   context.CancelFunc
	stopOnce sync.Once
	logger   logger.Logger
}

// NewPool creates a pool of workerCount publishers.
func NewPool(workerCount int, queue Queue, sink Sink, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	p := &Pool{
		workers: make([]*Worker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("publisher-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workerCount; i++ {
		w := NewWorker(queue, sink, WithName("publisher-"+strconv.Itoa(i)), WithLogger(p.logger))
		w.processed = &p.processed
		w.failed = &p.failed
		p.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers. Workers run on their own context so that a
// canceled parent does not abandon envelopes still queued; Shutdown drains them.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	for _, w := range p.workers {
		go w.Run(runCtx)
	}
	p.logger.Info(ctx, "publisher pool started", logger.Int("workers", len(p.workers)))
}

// Processed returns how many envelopes reached every sink.
func (p *Pool) Processed() uint64 { return p.processed.Load() }

// Failed returns how many envelopes failed on at least one sink.
func (p *Pool) Failed() uint64 { return p.failed.Load() }

// Shutdown closes the queue, lets workers drain it and waits up to the
// context deadline (or poolShutdownTimeout) before abandoning the rest.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		for _, w := range p.workers {
			select {
			case <-w.done:
			case <-shutdownCtx.Done():
				err = fmt.Errorf("publisher drain timed out: %w", shutdownCtx.Err())
			}
			if err != nil {
				break
			}
		}
		if p.cancel != nil {
			p.cancel()
		}
		if err != nil {
			p.logger.Warn(ctx, "publisher pool stopped before draining", logger.Error(err))
			return
		}
		p.logger.Info(ctx, "publisher pool stopped",
			logger.Uint64("processed", p.processed.Load()),
			logger.Uint64("failed", p.failed.Load()))
	})
	return err
}
