package detector

import "github.com/okian/windfarm/internal/domain/model"

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithPolicy selects how an error equal to the threshold is treated.
func WithPolicy(p Policy) Option {
	return func(d *Detector) {
		d.policy = p
	}
}

// WithDefaultThreshold sets one raw threshold for every channel without its
// own, replacing the span-scaled default. Non-positive values keep the
// span-scaled default.
func WithDefaultThreshold(threshold float64) Option {
	return func(d *Detector) {
		if threshold > 0 {
			d.defaultThreshold = threshold
		}
	}
}

// WithSpanFraction sets the fraction of a channel's span used as its default
// threshold.
func WithSpanFraction(f float64) Option {
	return func(d *Detector) {
		if f > 0 {
			d.spanFraction = f
		}
	}
}

// WithThresholds sets per-channel thresholds. Non-positive values are ignored.
func WithThresholds(thresholds map[model.Channel]float64) Option {
	return func(d *Detector) {
		for c, v := range thresholds {
			if c.Valid() && v > 0 {
				d.thresholds[c] = v
			}
		}
	}
}

// WithIDGenerator overrides event id generation, mainly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(d *Detector) {
		if gen != nil {
			d.newID = gen
		}
	}
}
