package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

var ts = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func anomaly() model.Envelope {
	return model.Envelope{Kind: model.KindAnomaly, Anomaly: &model.AnomalyEvent{
		ID:           "ev-1",
		TurbineID:    "wt-01",
		Channel:      model.Voltage,
		TS:           ts,
		Error:        0.42,
		Threshold:    0.1,
		Exceeded:     true,
		ModelName:    "ae",
		ModelVersion: "v2",
	}}
}

func capture() model.Envelope {
	return model.Envelope{Kind: model.KindCapture, Capture: &model.CaptureRecord{
		TurbineID:    "wt-02",
		TS:           ts,
		ModelName:    "ae",
		ModelVersion: "v2",
		Inputs:       [][]float64{{1, 2, 3, 4, 5, 6, 7}},
		Outputs:      [][]float64{{1, 2, 3, 4, 5, 6, 7}},
	}}
}

type recordingSink struct {
	name   string
	fail   error
	writes []model.Envelope
	closed bool
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Close() error { s.closed = true; return nil }
func (s *recordingSink) Write(_ context.Context, e model.Envelope) error {
	if s.fail != nil {
		return s.fail
	}
	s.writes = append(s.writes, e)
	return nil
}

func TestManager(t *testing.T) {
	Convey("Given a manager with a healthy and a failing sink", t, func() {
		good := &recordingSink{name: "good"}
		bad := &recordingSink{name: "bad", fail: errors.New("disk full")}
		m := NewManager(bad, good)

		err := m.Write(context.Background(), anomaly())

		Convey("Then the healthy sink still receives the envelope", func() {
			So(good.writes, ShouldHaveLength, 1)
		})

		Convey("And the failure is reported with the sink name", func() {
			So(errors.Is(err, ErrSinkFailed), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "bad")
		})

		Convey("When closing", func() {
			So(m.Close(), ShouldBeNil)
			So(good.closed && bad.closed, ShouldBeTrue)
		})
	})

	Convey("Given sinks added later", t, func() {
		m := NewManager()
		m.Add(&recordingSink{name: "file"})
		So(m.Names(), ShouldResemble, []string{"file"})
		So(m.Write(context.Background(), capture()), ShouldBeNil)
	})
}

func TestPostgresArchive(t *testing.T) {
	Convey("Given an archive over a mocked database", t, func() {
		db, mock, err := sqlmock.New()
		So(err, ShouldBeNil)
		archive, err := NewPostgresArchive(db, "")
		So(err, ShouldBeNil)

		Convey("When writing an anomaly", func() {
			ev := anomaly().Anomaly
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO anomaly_events")).
				WithArgs(ev.ID, ev.TurbineID, "voltage", ev.TS, ev.Error, ev.Threshold, ev.ModelName, ev.ModelVersion).
				WillReturnResult(sqlmock.NewResult(1, 1))

			So(archive.Write(context.Background(), anomaly()), ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("When writing a capture nothing is executed", func() {
			So(archive.Write(context.Background(), capture()), ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("When the insert fails the error carries the event id", func() {
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO anomaly_events")).
				WillReturnError(errors.New("connection reset"))

			err := archive.Write(context.Background(), anomaly())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "ev-1")
		})

		Convey("When ensuring the schema", func() {
			mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS anomaly_events")).
				WillReturnResult(sqlmock.NewResult(0, 0))
			So(archive.EnsureSchema(context.Background()), ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})

	Convey("Given an unsafe table name", t, func() {
		db, _, err := sqlmock.New()
		So(err, ShouldBeNil)
		_, err = NewPostgresArchive(db, "events; DROP TABLE x")
		So(err, ShouldNotBeNil)
	})

	Convey("Given no dsn", t, func() {
		_, err := OpenPostgres(context.Background(), "", "")
		So(err, ShouldEqual, ErrNoDSN)
	})
}

type fakePointWriter struct {
	lines []string
	fail  error
}

func (w *fakePointWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	if w.fail != nil {
		return w.fail
	}
	for _, p := range points {
		w.lines = append(w.lines, write.PointToLineProtocol(p, time.Nanosecond))
	}
	return nil
}

func TestInfluxTelemetry(t *testing.T) {
	Convey("Given an influx sink over a fake writer", t, func() {
		w := &fakePointWriter{}
		sink := NewInfluxTelemetryWithWriter(w)

		Convey("Anomalies become anomaly points", func() {
			So(sink.Write(context.Background(), anomaly()), ShouldBeNil)
			So(w.lines, ShouldHaveLength, 1)
			So(w.lines[0], ShouldStartWith, "anomaly,")
			So(w.lines[0], ShouldContainSubstring, "turbine_id=wt-01")
			So(w.lines[0], ShouldContainSubstring, "reconstruction_error=0.42")
		})

		Convey("Captures become inference points with per-channel errors", func() {
			So(sink.Write(context.Background(), capture()), ShouldBeNil)
			So(w.lines, ShouldHaveLength, 1)
			So(w.lines[0], ShouldStartWith, "inference,")
			So(w.lines[0], ShouldContainSubstring, "error_pressure=0")
			So(w.lines[0], ShouldContainSubstring, "rows=1i")
		})

		Convey("Empty envelopes are skipped", func() {
			So(sink.Write(context.Background(), model.Envelope{Kind: model.KindAnomaly}), ShouldBeNil)
			So(w.lines, ShouldBeEmpty)
		})

		Convey("Writer failures are returned", func() {
			w.fail = errors.New("401")
			So(sink.Write(context.Background(), anomaly()), ShouldNotBeNil)
		})

		So(sink.Ping(context.Background()), ShouldBeNil)
		So(sink.Close(), ShouldBeNil)
	})
}

func TestFileSink(t *testing.T) {
	Convey("Given a file sink in a temp dir", t, func() {
		dir := t.TempDir()
		sink, err := NewFileSink(dir)
		So(err, ShouldBeNil)
		day := ts
		sink.now = func() time.Time { return day }

		So(sink.Write(context.Background(), anomaly()), ShouldBeNil)
		So(sink.Write(context.Background(), capture()), ShouldBeNil)

		Convey("Then both envelopes are in today's file as JSON lines", func() {
			f, err := os.Open(filepath.Join(dir, "windfarm-2026-03-14.jsonl"))
			So(err, ShouldBeNil)
			defer f.Close()

			var kinds []model.EnvelopeKind
			sc := bufio.NewScanner(f)
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				var e model.Envelope
				So(json.Unmarshal(sc.Bytes(), &e), ShouldBeNil)
				kinds = append(kinds, e.Kind)
			}
			So(kinds, ShouldResemble, []model.EnvelopeKind{model.KindAnomaly, model.KindCapture})
		})

		Convey("When the day changes a new file is started", func() {
			day = ts.Add(24 * time.Hour)
			So(sink.Write(context.Background(), anomaly()), ShouldBeNil)
			So(sink.Close(), ShouldBeNil)

			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			So(strings.Join(names, ","), ShouldEqual, "windfarm-2026-03-14.jsonl,windfarm-2026-03-15.jsonl")
		})
	})
}
