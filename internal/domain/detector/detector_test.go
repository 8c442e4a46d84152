package detector_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/windfarm/internal/domain/detector"
	"github.com/okian/windfarm/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func rows(n int, v float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, model.NumChannels)
		for c := range out[i] {
			out[i][c] = v
		}
	}
	return out
}

func TestReconstructionError(t *testing.T) {
	Convey("Given an input window and its reconstruction", t, func() {
		in := rows(4, 1)
		out := rows(4, 1)
		out[0][model.Voltage] = 3  // |1-3| = 2
		out[1][model.Voltage] = -1 // |1-(-1)| = 2

		errs, err := detector.ReconstructionError(in, out)

		Convey("Then the error is the per-channel mean absolute difference", func() {
			So(err, ShouldBeNil)
			So(errs[model.Voltage], ShouldAlmostEqual, 1.0)
			So(errs[model.Pressure], ShouldEqual, 0)
		})
	})

	Convey("Given mismatched shapes", t, func() {
		_, err1 := detector.ReconstructionError(rows(2, 0), rows(3, 0))
		_, err2 := detector.ReconstructionError(nil, nil)
		short := rows(2, 0)
		short[1] = short[1][:3]
		_, err3 := detector.ReconstructionError(rows(2, 0), short)

		So(errors.Is(err1, detector.ErrShapeMismatch), ShouldBeTrue)
		So(errors.Is(err2, detector.ErrShapeMismatch), ShouldBeTrue)
		So(errors.Is(err3, detector.ErrShapeMismatch), ShouldBeTrue)
	})

	Convey("Given a reconstruction carrying NaN or Inf", t, func() {
		nan := rows(3, 1)
		nan[2][model.Temperature] = math.NaN()
		inf := rows(3, 1)
		inf[0][model.RotorSpeed] = math.Inf(1)

		_, errNaN := detector.ReconstructionError(rows(3, 1), nan)
		_, errInf := detector.ReconstructionError(rows(3, 1), inf)

		Convey("Then the error is rejected instead of reading as healthy", func() {
			So(errors.Is(errNaN, detector.ErrNonFinite), ShouldBeTrue)
			So(errNaN.Error(), ShouldContainSubstring, "temperature")
			So(errors.Is(errInf, detector.ErrNonFinite), ShouldBeTrue)
		})
	})
}

func TestDefaultThresholdsFollowChannelSpan(t *testing.T) {
	Convey("Given a detector without configured thresholds", t, func() {
		d := detector.New(detector.WithThresholds(map[model.Channel]float64{model.Voltage: 0.5}))

		Convey("Then unlisted channels scale with their nominal span", func() {
			So(d.Threshold(model.Voltage), ShouldEqual, 0.5)
			So(d.Threshold(model.Pressure), ShouldAlmostEqual, detector.DefaultSpanFraction*200)
			So(d.Threshold(model.VibrationX), ShouldAlmostEqual, detector.DefaultSpanFraction*4)
		})

		Convey("Then a span fraction option rescales them", func() {
			scaled := detector.New(detector.WithSpanFraction(0.5))
			So(scaled.Threshold(model.Temperature), ShouldAlmostEqual, 30)
		})

		Convey("Then a raw default threshold overrides the span scaling", func() {
			raw := detector.New(detector.WithDefaultThreshold(3), detector.WithSpanFraction(0.5))
			So(raw.Threshold(model.Pressure), ShouldEqual, 3)
		})
	})
}

func TestEvaluateThresholdPolicies(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	active := model.ModelHandle{Name: "wind-turbine", Version: "3"}
	thresholds := map[model.Channel]float64{model.Voltage: 0.5, model.Pressure: 2}

	Convey("Given a strict detector", t, func() {
		d := detector.New(
			detector.WithThresholds(thresholds),
			detector.WithDefaultThreshold(1),
			detector.WithIDGenerator(func() string { return "fixed" }),
		)
		So(d.Policy(), ShouldEqual, detector.Strict)

		Convey("When an error equals its threshold exactly", func() {
			var errs [model.NumChannels]float64
			errs[model.Voltage] = 0.5
			errs[model.Pressure] = 2

			Convey("Then no anomaly is flagged", func() {
				So(d.Evaluate("wt-01", ts, errs, active), ShouldBeEmpty)
			})
		})

		Convey("When an error exceeds its threshold", func() {
			var errs [model.NumChannels]float64
			errs[model.Voltage] = 0.5000001
			errs[model.Temperature] = 0.9 // default threshold 1, below

			events := d.Evaluate("wt-01", ts, errs, active)

			Convey("Then only that channel is flagged with full context", func() {
				So(len(events), ShouldEqual, 1)
				ev := events[0]
				So(ev.ID, ShouldEqual, "fixed")
				So(ev.Channel, ShouldEqual, model.Voltage)
				So(ev.Threshold, ShouldEqual, 0.5)
				So(ev.Exceeded, ShouldBeTrue)
				So(ev.TS, ShouldEqual, ts)
				So(ev.ModelVersion, ShouldEqual, "3")
			})
		})
	})

	Convey("Given an inclusive detector", t, func() {
		d := detector.New(detector.WithThresholds(thresholds), detector.WithPolicy(detector.Inclusive))

		Convey("When an error equals its threshold exactly", func() {
			var errs [model.NumChannels]float64
			errs[model.Voltage] = 0.5

			events := d.Evaluate("wt-02", ts, errs, active)

			Convey("Then it is flagged", func() {
				So(len(events), ShouldEqual, 1)
				So(events[0].Channel, ShouldEqual, model.Voltage)
				So(events[0].ID, ShouldNotBeBlank)
			})
		})
	})

	Convey("Given fixed errors swept around a threshold", t, func() {
		strict := detector.New(detector.WithDefaultThreshold(1))
		inclusive := detector.New(detector.WithDefaultThreshold(1), detector.WithPolicy(detector.Inclusive))

		for _, v := range []float64{0, 0.5, 0.999999, 1, 1.000001, 7} {
			var errs [model.NumChannels]float64
			errs[model.RotorSpeed] = v

			So(len(strict.Evaluate("wt", ts, errs, active)) == 1, ShouldEqual, v > 1)
			So(len(inclusive.Evaluate("wt", ts, errs, active)) == 1, ShouldEqual, v >= 1)
		}
	})
}

func TestParsePolicy(t *testing.T) {
	Convey("Given policy names", t, func() {
		p, err := detector.ParsePolicy("Inclusive")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, detector.Inclusive)
		So(p.String(), ShouldEqual, "inclusive")

		p, err = detector.ParsePolicy("")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, detector.Strict)

		_, err = detector.ParsePolicy("fuzzy")
		So(err, ShouldNotBeNil)
	})
}
