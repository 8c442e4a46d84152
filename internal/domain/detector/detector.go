// Package detector turns autoencoder reconstructions into anomaly events.
package detector

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/windfarm/internal/domain/model"
)

// DefaultSpanFraction scales a channel's nominal span into its threshold when
// no explicit threshold is configured. A healthy trace reconstructs within
// about 2% of span.
const DefaultSpanFraction = 0.08

var (
	// ErrShapeMismatch is returned when input and reconstruction differ in shape.
	ErrShapeMismatch = errors.New("reconstruction shape mismatch")
	// ErrNonFinite is returned when a reconstruction yields NaN or Inf errors.
	ErrNonFinite = errors.New("non-finite reconstruction error")
)

// Policy decides whether an error equal to the threshold is an anomaly.
type Policy int

const (
	// Strict flags only errors strictly above the threshold.
	Strict Policy = iota
	// Inclusive also flags errors equal to the threshold.
	Inclusive
)

// ParsePolicy maps "strict" or "inclusive" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "inclusive":
		return Inclusive, nil
	}
	return Strict, fmt.Errorf("unknown threshold policy: %s", s)
}

func (p Policy) String() string {
	if p == Inclusive {
		return "inclusive"
	}
	return "strict"
}

// Exceeds applies the policy to one error/threshold pair.
func (p Policy) Exceeds(err, threshold float64) bool {
	if p == Inclusive {
		return err >= threshold
	}
	return err > threshold
}

// ReconstructionError computes the mean absolute error per channel over a
// window. Both matrices are rows x channels.
func ReconstructionError(input, output [][]float64) ([model.NumChannels]float64, error) {
	var errs [model.NumChannels]float64
	if len(input) == 0 || len(input) != len(output) {
		return errs, fmt.Errorf("%w: %d input rows, %d output rows", ErrShapeMismatch, len(input), len(output))
	}
	for i := range input {
		if len(input[i]) != model.NumChannels || len(output[i]) != model.NumChannels {
			return errs, fmt.Errorf("%w: row %d has %d/%d columns, want %d",
				ErrShapeMismatch, i, len(input[i]), len(output[i]), model.NumChannels)
		}
		for c := 0; c < model.NumChannels; c++ {
			errs[c] += math.Abs(input[i][c] - output[i][c])
		}
	}
	n := float64(len(input))
	for c := range errs {
		errs[c] /= n
		if math.IsNaN(errs[c]) || math.IsInf(errs[c], 0) {
			return errs, fmt.Errorf("%w: channel %s", ErrNonFinite, model.Channel(c))
		}
	}
	return errs, nil
}

// Detector compares reconstruction errors with per-channel thresholds.
// A channel without its own threshold uses defaultThreshold when set, and
// spanFraction of its nominal span otherwise.
type Detector struct {
	policy           Policy
	defaultThreshold float64
	spanFraction     float64
	thresholds       map[model.Channel]float64
	newID            func() string
}

// New creates a detector with configuration options.
func New(opts ...Option) *Detector {
	d := &Detector{
		policy:       Strict,
		spanFraction: DefaultSpanFraction,
		thresholds:   make(map[model.Channel]float64),
		newID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the configured tie-break policy.
func (d *Detector) Policy() Policy { return d.policy }

// Threshold returns the threshold in force for a channel.
func (d *Detector) Threshold(c model.Channel) float64 {
	if t, ok := d.thresholds[c]; ok {
		return t
	}
	if d.defaultThreshold > 0 {
		return d.defaultThreshold
	}
	return d.spanFraction * c.Spec().Span()
}

// Evaluate returns one event per channel whose error crosses its threshold.
func (d *Detector) Evaluate(turbineID string, ts time.Time, errs [model.NumChannels]float64, active model.ModelHandle) []model.AnomalyEvent {
	var events []model.AnomalyEvent
	for _, c := range model.Channels() {
		threshold := d.Threshold(c)
		if !d.policy.Exceeds(errs[c], threshold) {
			continue
		}
		events = append(events, model.AnomalyEvent{
			ID:           d.newID(),
			TurbineID:    turbineID,
			Channel:      c,
			TS:           ts,
			Error:        errs[c],
			Threshold:    threshold,
			Exceeded:     true,
			ModelName:    active.Name,
			ModelVersion: active.Version,
		})
	}
	return events
}
