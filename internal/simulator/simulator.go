// Package simulator generates sensor samples for a fleet of virtual turbines.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

// Default simulator configuration constants.
const (
	defaultTurbineCount   = 3
	defaultBufferCapacity = 100
	defaultTickInterval   = 100 * time.Millisecond
	defaultFaultMagnitude = 1.5
	defaultStopTimeout    = 5 * time.Second
	syntheticTraceRows    = 1000
)

// Simulator owns the turbines and their generation loops.
type Simulator struct {
	count          int
	ids            []string
	trace          *Trace
	capacity       int
	tickInterval   time.Duration
	faultMagnitude float64
	seed           int64
	stopTimeout    time.Duration
	logger         logger.Logger

	order    []string
	turbines map[string]*Turbine

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a simulator with configuration options.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		count:          defaultTurbineCount,
		capacity:       defaultBufferCapacity,
		tickInterval:   defaultTickInterval,
		faultMagnitude: defaultFaultMagnitude,
		seed:           1,
		stopTimeout:    defaultStopTimeout,
		logger:         logger.Get().Named("simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.ids) == 0 {
		for i := 1; i <= s.count; i++ {
			s.ids = append(s.ids, fmt.Sprintf("wt-%02d", i))
		}
	}
	if s.trace == nil {
		s.trace = SyntheticTrace(syntheticTraceRows, s.seed)
	}

	s.turbines = make(map[string]*Turbine, len(s.ids))
	for i, id := range s.ids {
		if _, dup := s.turbines[id]; dup {
			continue
		}
		// Stagger the replay so turbines do not move in lockstep.
		offset := i * s.trace.Len() / len(s.ids)
		s.turbines[id] = newTurbine(id, s.trace.Cursor(offset), s.capacity, s.faultMagnitude, s.seed+int64(i)+1)
		s.order = append(s.order, id)
	}
	metrics.UpdateTurbineCount(len(s.order))
	return s
}

// Start launches one generation goroutine per turbine.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, id := range s.order {
		s.wg.Add(1)
		go s.generate(runCtx, s.turbines[id])
	}

	s.logger.Info(ctx, "simulator started",
		logger.Int("turbines", len(s.order)),
		logger.Duration("tick", s.tickInterval),
		logger.Int("buffer_capacity", s.capacity))
	return nil
}

func (s *Simulator) generate(ctx context.Context, t *Turbine) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Tick(now)
			metrics.RecordSampleGenerated(t.id)
			metrics.UpdateBufferFill(t.id, t.buf.Len())
		}
	}
}

// Stop halts generation and waits for the goroutines to exit.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info(context.Background(), "simulator stopped")
		return nil
	case <-time.After(s.stopTimeout):
		return ErrStopTimeout
	}
}

// Running reports whether generation is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Turbine returns a turbine by id.
func (s *Simulator) Turbine(id string) (*Turbine, error) {
	t, ok := s.turbines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTurbine, id)
	}
	return t, nil
}

// Turbines returns all turbines in creation order.
func (s *Simulator) Turbines() []*Turbine {
	out := make([]*Turbine, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.turbines[id])
	}
	return out
}

// TurbineIDs returns all turbine ids in creation order.
func (s *Simulator) TurbineIDs() []string {
	return append([]string(nil), s.order...)
}

// Latest returns the n most recent samples of a turbine, oldest first. The
// boolean is false while the buffer holds fewer than n samples.
func (s *Simulator) Latest(id string, n int) ([]model.SensorSample, bool, error) {
	t, err := s.Turbine(id)
	if err != nil {
		return nil, false, err
	}
	window, full := t.buf.Latest(n)
	return window, full, nil
}

// InjectFault toggles fault injection on one channel of a turbine and returns
// the new state.
func (s *Simulator) InjectFault(id string, c model.Channel) (bool, error) {
	t, err := s.lookup(id, c)
	if err != nil {
		return false, err
	}
	on := t.ToggleFault(c)
	s.reportFault(t, c, on)
	return on, nil
}

// SetFault sets fault injection on one channel of a turbine.
func (s *Simulator) SetFault(id string, c model.Channel, on bool) error {
	t, err := s.lookup(id, c)
	if err != nil {
		return err
	}
	t.SetFault(c, on)
	s.reportFault(t, c, on)
	return nil
}

// Faults lists the faulted channels of a turbine.
func (s *Simulator) Faults(id string) ([]model.Channel, error) {
	t, err := s.Turbine(id)
	if err != nil {
		return nil, err
	}
	return t.Faults(), nil
}

// Status returns the status of every turbine.
func (s *Simulator) Status() []Status {
	out := make([]Status, 0, len(s.order))
	for _, t := range s.Turbines() {
		out = append(out, t.Status())
	}
	return out
}

func (s *Simulator) lookup(id string, c model.Channel) (*Turbine, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", model.ErrUnknownChannel, int(c))
	}
	return s.Turbine(id)
}

func (s *Simulator) reportFault(t *Turbine, c model.Channel, on bool) {
	metrics.UpdateFaultActive(t.id, c.String(), on)
	s.logger.Info(context.Background(), "fault injection changed",
		logger.String("turbine", t.id),
		logger.String("channel", c.String()),
		logger.Bool("active", on))
}
