package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/okian/windfarm/internal/domain/model"
)

// PointWriter is the blocking write side of an InfluxDB client.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxTelemetry writes capture records and anomaly points to InfluxDB.
type InfluxTelemetry struct {
	writer PointWriter
	client influxdb2.Client
}

// NewInfluxTelemetry connects to url with token and writes to org/bucket.
func NewInfluxTelemetry(url, token, org, bucket string) *InfluxTelemetry {
	client := influxdb2.NewClient(url, token)
	return &InfluxTelemetry{writer: client.WriteAPIBlocking(org, bucket), client: client}
}

// NewInfluxTelemetryWithWriter uses an existing writer, mainly for tests.
func NewInfluxTelemetryWithWriter(w PointWriter) *InfluxTelemetry {
	return &InfluxTelemetry{writer: w}
}

// Ping checks that the server is healthy.
func (t *InfluxTelemetry) Ping(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	ok, err := t.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping influxdb: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb is not ready")
	}
	return nil
}

// Name identifies the sink.
func (t *InfluxTelemetry) Name() string { return "influxdb" }

// Write turns an envelope into one point.
func (t *InfluxTelemetry) Write(ctx context.Context, e model.Envelope) error {
	p := toPoint(e)
	if p == nil {
		return nil
	}
	if err := t.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write %s point: %w", e.Kind, err)
	}
	return nil
}

func toPoint(e model.Envelope) *write.Point {
	switch {
	case e.Kind == model.KindAnomaly && e.Anomaly != nil:
		ev := e.Anomaly
		return influxdb2.NewPoint("anomaly",
			map[string]string{
				"turbine_id":    ev.TurbineID,
				"channel":       ev.Channel.String(),
				"model_version": ev.ModelVersion,
			},
			map[string]interface{}{
				"reconstruction_error": ev.Error,
				"threshold":            ev.Threshold,
				"id":                   ev.ID,
			},
			ev.TS)
	case e.Kind == model.KindCapture && e.Capture != nil:
		rec := e.Capture
		fields := make(map[string]interface{}, model.NumChannels+1)
		for _, c := range model.Channels() {
			fields["error_"+c.String()] = rec.Errors[c]
		}
		fields["rows"] = len(rec.Inputs)
		return influxdb2.NewPoint("inference",
			map[string]string{
				"turbine_id":    rec.TurbineID,
				"model_name":    rec.ModelName,
				"model_version": rec.ModelVersion,
			},
			fields,
			rec.TS)
	}
	return nil
}

// Close flushes and closes the client.
func (t *InfluxTelemetry) Close() error {
	if t.client != nil {
		t.client.Close()
	}
	return nil
}
