package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/ota"
)

// Publisher sends anomaly events and OTA job outcomes to the broker.
// Topics are <prefix>/<turbine>/anomaly and <prefix>/ota/status.
type Publisher struct {
	client interface {
		Publish(ctx context.Context, topic string, payload []byte) error
	}
	prefix string
}

// NewPublisher creates a publisher over a connected client.
func NewPublisher(client *Client, prefix string) *Publisher {
	return &Publisher{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

// Name identifies the sink in logs and metrics.
func (p *Publisher) Name() string { return "mqtt" }

// AnomalyTopic returns the topic anomalies of a turbine are published on.
func (p *Publisher) AnomalyTopic(turbineID string) string {
	return p.prefix + "/" + turbineID + "/anomaly"
}

// StatusTopic returns the topic OTA job outcomes are published on.
func (p *Publisher) StatusTopic() string {
	return p.prefix + "/ota/status"
}

// Write publishes anomaly envelopes. Capture records stay on the device and
// are ignored here.
func (p *Publisher) Write(ctx context.Context, e model.Envelope) error {
	if e.Kind != model.KindAnomaly || e.Anomaly == nil {
		return nil
	}
	payload, err := json.Marshal(e.Anomaly)
	if err != nil {
		return fmt.Errorf("encode anomaly: %w", err)
	}
	return p.client.Publish(ctx, p.AnomalyTopic(e.Anomaly.TurbineID), payload)
}

// PublishStatus publishes an OTA job outcome.
func (p *Publisher) PublishStatus(ctx context.Context, s ota.JobStatus) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode job status: %w", err)
	}
	return p.client.Publish(ctx, p.StatusTopic(), payload)
}

// Close is a no-op; the client is closed by its owner.
func (p *Publisher) Close() error { return nil }
