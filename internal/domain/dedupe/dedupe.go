// Package dedupe remembers which deployment jobs were already handled so a
// notice delivered twice (MQTT redelivery, a file rewritten in the drop
// directory, a repeated HTTP trigger) installs its model only once.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 1024

// Deduper records seen job IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an ID so a later delivery is processed again. Used when
	// a job failed and may be redelivered.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps the most recent maxSize IDs in insertion order and
// forgets the oldest first. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]uint64 // id -> insertion stamp
	order   []entry           // oldest first; may hold stale entries
	next    uint64
	maxSize int
}

type entry struct {
	id    string
	stamp uint64
}

// Option tunes the deduper returned by NewInMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithMaxSize bounds how many job IDs are remembered, evicting the oldest.
// A non-positive size never evicts.
func WithMaxSize(n int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = n
	}
}

// NewInMemoryDeduper returns a Deduper remembering up to 1024 IDs unless
// WithMaxSize says otherwise.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 {
		for len(d.seen) >= d.maxSize && len(d.order) > 0 {
			oldest := d.order[0]
			d.order = d.order[1:]
			if d.seen[oldest.id] == oldest.stamp {
				delete(d.seen, oldest.id)
			}
		}
	}
	d.next++
	d.seen[id] = d.next
	d.order = append(d.order, entry{id: id, stamp: d.next})
	d.compact()
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	d.compact()
}

// compact drops stale order entries once they outnumber live ones.
// Must be called with d.mu held.
func (d *inMemoryDeduper) compact() {
	if len(d.order) <= 2*len(d.seen)+16 {
		return
	}
	live := make([]entry, 0, len(d.seen))
	for _, e := range d.order {
		if stamp, ok := d.seen[e.id]; ok && stamp == e.stamp {
			live = append(live, e)
		}
	}
	d.order = live
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
