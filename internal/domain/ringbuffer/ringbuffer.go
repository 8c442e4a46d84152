// Package ringbuffer holds the per-turbine sample history.
//
// The generator is the only writer and the controller the only reader of a
// buffer; both go through the same RWMutex so a reader never sees a window
// that is half old and half new.
package ringbuffer

import (
	"sync"

	"github.com/okian/windfarm/internal/domain/model"
)

// Buffer is a fixed-capacity, overwrite-oldest buffer of sensor samples.
type Buffer struct {
	mu    sync.RWMutex
	data  []model.SensorSample
	head  int // next write position
	size  int
	total uint64
}

// New creates a buffer holding at most capacity samples. Capacities below one
// are raised to one.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]model.SensorSample, capacity)}
}

// Push appends a sample, overwriting the oldest one when full.
func (b *Buffer) Push(s model.SensorSample) { //nolint:gocritic // hugeParam: samples are stored by value
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[b.head] = s
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
	b.total++
}

// Latest returns the n most recent samples, oldest first. The boolean is false
// when fewer than n samples are buffered; in that case every buffered sample
// is returned.
func (b *Buffer) Latest(n int) ([]model.SensorSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	full := n <= b.size
	if !full {
		n = b.size
	}
	return b.copyLast(n), full
}

// Snapshot returns every buffered sample, oldest first.
func (b *Buffer) Snapshot() []model.SensorSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLast(b.size)
}

// copyLast must be called with the lock held.
func (b *Buffer) copyLast(n int) []model.SensorSample {
	out := make([]model.SensorSample, n)
	capacity := len(b.data)
	start := (b.head - n + capacity) % capacity
	for i := 0; i < n; i++ {
		out[i] = b.data[(start+i)%capacity]
	}
	return out
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Total returns how many samples were ever pushed.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
