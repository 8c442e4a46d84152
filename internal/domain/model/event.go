package model

import (
	"fmt"
	"strings"
	"time"
)

// ModelHandle identifies a model loaded into the edge agent.
type ModelHandle struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Path     string    `json:"path"`
	LoadedAt time.Time `json:"loaded_at"`
}

// IsZero reports whether no model is described.
func (h ModelHandle) IsZero() bool { return h.Name == "" }

// AgentName is the name the model is registered under in the agent. The
// version is part of it so two versions never collide.
func (h ModelHandle) AgentName() string {
	if h.Version == "" {
		return h.Name
	}
	return h.Name + "-" + h.Version
}

// AnomalyEvent is derived from one inference window for one channel.
type AnomalyEvent struct {
	ID           string    `json:"id"`
	TurbineID    string    `json:"turbine_id"`
	Channel      Channel   `json:"channel"`
	TS           time.Time `json:"ts"`
	Error        float64   `json:"reconstruction_error"`
	Threshold    float64   `json:"threshold"`
	Exceeded     bool      `json:"exceeded"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
}

// CaptureRecord holds the inputs and outputs of one inference, forwarded to
// telemetry sinks.
type CaptureRecord struct {
	TurbineID    string               `json:"turbine_id"`
	TS           time.Time            `json:"ts"`
	ModelName    string               `json:"model_name"`
	ModelVersion string               `json:"model_version"`
	Inputs       [][]float64          `json:"inputs"`
	Outputs      [][]float64          `json:"outputs"`
	Errors       [NumChannels]float64 `json:"errors"`
}

// EnvelopeKind tags what an Envelope carries.
type EnvelopeKind string

// Envelope kinds.
const (
	KindAnomaly EnvelopeKind = "anomaly"
	KindCapture EnvelopeKind = "capture"
)

// Envelope is the unit flowing through the publication queue.
type Envelope struct {
	Kind    EnvelopeKind   `json:"kind"`
	Anomaly *AnomalyEvent  `json:"anomaly,omitempty"`
	Capture *CaptureRecord `json:"capture,omitempty"`
}

// TurbineID returns the turbine the payload belongs to.
func (e Envelope) TurbineID() string {
	switch {
	case e.Anomaly != nil:
		return e.Anomaly.TurbineID
	case e.Capture != nil:
		return e.Capture.TurbineID
	}
	return ""
}

// DeploymentNotice asks the device to install a new model version.
type DeploymentNotice struct {
	JobID      string `json:"job_id"`
	ModelName  string `json:"model_name"`
	Version    string `json:"version"`
	PackageURL string `json:"package_url"`
	Checksum   string `json:"checksum,omitempty"` // sha256, hex
}

// Validate checks the required fields.
func (n DeploymentNotice) Validate() error {
	switch {
	case strings.TrimSpace(n.JobID) == "":
		return fmt.Errorf("%w: missing job_id", ErrInvalidNotice)
	case strings.TrimSpace(n.ModelName) == "":
		return fmt.Errorf("%w: missing model_name", ErrInvalidNotice)
	case strings.TrimSpace(n.Version) == "":
		return fmt.Errorf("%w: missing version", ErrInvalidNotice)
	case strings.TrimSpace(n.PackageURL) == "":
		return fmt.Errorf("%w: missing package_url", ErrInvalidNotice)
	}
	return nil
}

// Handle builds the ModelHandle a notice will produce once installed at path.
func (n DeploymentNotice) Handle(path string) ModelHandle {
	return ModelHandle{Name: n.ModelName, Version: n.Version, Path: path}
}
