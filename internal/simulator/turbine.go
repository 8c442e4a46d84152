package simulator

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/domain/ringbuffer"
)

// Turbine generates samples for one virtual turbine into its ring buffer.
type Turbine struct {
	id     string
	buf    *ringbuffer.Buffer
	faults [model.NumChannels]atomic.Bool

	faultMagnitude float64

	mu     sync.Mutex // guards cursor, rng and seq
	cursor *Cursor
	rng    *rand.Rand
	seq    uint64
}

func newTurbine(id string, cursor *Cursor, capacity int, faultMagnitude float64, seed int64) *Turbine {
	return &Turbine{
		id:             id,
		buf:            ringbuffer.New(capacity),
		faultMagnitude: faultMagnitude,
		cursor:         cursor,
		rng:            rand.New(rand.NewSource(seed)), //nolint:gosec // simulation noise
	}
}

// ID returns the turbine id.
func (t *Turbine) ID() string { return t.id }

// Buffer exposes the turbine's sample history.
func (t *Turbine) Buffer() *ringbuffer.Buffer { return t.buf }

// Tick produces the next sample, stores it and returns it.
func (t *Turbine) Tick(now time.Time) model.SensorSample {
	t.mu.Lock()
	row := t.cursor.Next()
	t.seq++
	s := model.SensorSample{TurbineID: t.id, Seq: t.seq, TS: now, Values: row}
	for _, c := range model.Channels() {
		if t.faults[c].Load() {
			s.Values[c] += t.faultNoise(c)
		}
	}
	t.mu.Unlock()

	t.buf.Push(s)
	return s
}

// faultNoise pushes a reading at least one full span away from its trace
// value, so it always lands outside the nominal range.
func (t *Turbine) faultNoise(c model.Channel) float64 {
	noise := t.faultMagnitude * c.Spec().Span()
	if t.rng.Intn(2) == 0 {
		return -noise
	}
	return noise
}

// SetFault sets the fault flag on a channel.
func (t *Turbine) SetFault(c model.Channel, on bool) {
	t.faults[c].Store(on)
}

// ToggleFault flips the fault flag on a channel and returns the new state.
func (t *Turbine) ToggleFault(c model.Channel) bool {
	for {
		old := t.faults[c].Load()
		if t.faults[c].CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Faulted reports whether fault injection is active on a channel.
func (t *Turbine) Faulted(c model.Channel) bool { return t.faults[c].Load() }

// Faults lists the channels with active fault injection.
func (t *Turbine) Faults() []model.Channel {
	var out []model.Channel
	for _, c := range model.Channels() {
		if t.faults[c].Load() {
			out = append(out, c)
		}
	}
	return out
}

// Status is a point-in-time view of a turbine.
type Status struct {
	ID       string              `json:"id"`
	Samples  uint64              `json:"samples"`
	Buffered int                 `json:"buffered"`
	Capacity int                 `json:"capacity"`
	Faults   []model.Channel     `json:"faults"`
	Last     *model.SensorSample `json:"last,omitempty"`
}

// Status returns the current turbine status.
func (t *Turbine) Status() Status {
	st := Status{
		ID:       t.id,
		Samples:  t.buf.Total(),
		Buffered: t.buf.Len(),
		Capacity: t.buf.Cap(),
		Faults:   t.Faults(),
	}
	if last, ok := t.buf.Latest(1); ok {
		st.Last = &last[0]
	}
	return st
}
