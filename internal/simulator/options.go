package simulator

import (
	"time"

	"github.com/okian/windfarm/pkg/logger"
)

// Option applies a configuration option to the Simulator.
type Option func(*Simulator)

// WithTurbineCount sets how many turbines are simulated. Ignored when
// WithTurbineIDs is also given.
func WithTurbineCount(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.count = n
		}
	}
}

// WithTurbineIDs names the simulated turbines explicitly.
func WithTurbineIDs(ids ...string) Option {
	return func(s *Simulator) {
		if len(ids) > 0 {
			s.ids = append([]string(nil), ids...)
		}
	}
}

// WithTrace replays the given trace instead of a synthetic one.
func WithTrace(t *Trace) Option {
	return func(s *Simulator) {
		if t != nil {
			s.trace = t
		}
	}
}

// WithBufferCapacity sets the ring buffer capacity per turbine.
func WithBufferCapacity(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithTickInterval sets the sample generation period.
func WithTickInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithFaultMagnitude sets fault noise in multiples of a channel's span.
// Values below one could land inside the nominal range and are ignored.
func WithFaultMagnitude(m float64) Option {
	return func(s *Simulator) {
		if m >= 1 {
			s.faultMagnitude = m
		}
	}
}

// WithSeed fixes the random seed for traces and fault noise.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.seed = seed
	}
}

// WithStopTimeout bounds how long Stop waits for generators.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}
