// Package config defines service configuration and its loading.
//
// Values are layered: defaults from New, then an optional YAML file, then
// WINDFARM_ environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/windfarm/internal/domain/detector"
	"github.com/okian/windfarm/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Simulator.
	TurbineCount   int           `koanf:"turbine_count"`
	TracePath      string        `koanf:"trace_path"`
	BufferCapacity int           `koanf:"buffer_capacity"`
	TickInterval   time.Duration `koanf:"tick_interval"`
	FaultMagnitude float64       `koanf:"fault_magnitude"`
	Seed           int64         `koanf:"seed"`

	// Edge agent and the model it starts with.
	AgentSocket      string        `koanf:"agent_socket"`
	AgentCallTimeout time.Duration `koanf:"agent_call_timeout"`
	// AgentConnectTimeout bounds how long Start waits for the agent socket.
	// Past it the service runs without a model and keeps reconnecting.
	AgentConnectTimeout time.Duration `koanf:"agent_connect_timeout"`
	ModelName           string        `koanf:"model_name"`
	ModelVersion        string        `koanf:"model_version"`
	ModelPath           string        `koanf:"model_path"`

	// Controller.
	WindowSize        int           `koanf:"window_size"`
	InferenceInterval time.Duration `koanf:"inference_interval"`
	InferenceTimeout  time.Duration `koanf:"inference_timeout"`
	MaxRetries        int           `koanf:"max_retries"`
	CaptureStride     int           `koanf:"capture_stride"`
	HaltTimeout       time.Duration `koanf:"halt_timeout"`

	// Anomaly thresholds. Thresholds is keyed by channel name. Channels not
	// listed use DefaultThreshold when it is positive, and
	// ThresholdSpanFraction of their nominal span otherwise.
	TiePolicy             string             `koanf:"tie_policy"`
	DefaultThreshold      float64            `koanf:"default_threshold"`
	ThresholdSpanFraction float64            `koanf:"threshold_span_fraction"`
	Thresholds            map[string]float64 `koanf:"thresholds"`

	// Publication queue and workers.
	EventQueueSize int `koanf:"queue_size"`
	WorkerCount    int `koanf:"worker_count"`

	// OTA.
	DedupeSize         int           `koanf:"dedupe_size"`
	ModelDir           string        `koanf:"model_dir"`
	DeploymentDir      string        `koanf:"deployment_dir"`
	OTAQueueSize       int           `koanf:"ota_queue_size"`
	DownloadTimeout    time.Duration `koanf:"download_timeout"`
	DeploymentDebounce time.Duration `koanf:"deployment_debounce"`

	// MQTT. An empty broker disables it.
	MQTTBroker          string `koanf:"mqtt_broker"`
	MQTTClientID        string `koanf:"mqtt_client_id"`
	MQTTUsername        string `koanf:"mqtt_username"`
	MQTTPassword        string `koanf:"mqtt_password"`
	MQTTQoS             int    `koanf:"mqtt_qos"`
	MQTTTopicPrefix     string `koanf:"mqtt_topic_prefix"`
	MQTTDeploymentTopic string `koanf:"mqtt_deployment_topic"`

	// Sinks. Empty values disable the backend.
	PostgresDSN   string `koanf:"postgres_dsn"`
	PostgresTable string `koanf:"postgres_table"`
	InfluxURL     string `koanf:"influx_url"`
	InfluxToken   string `koanf:"influx_token"`
	InfluxOrg     string `koanf:"influx_org"`
	InfluxBucket  string `koanf:"influx_bucket"`
	CaptureDir    string `koanf:"capture_dir"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",

		TurbineCount:   3,
		BufferCapacity: 100,
		TickInterval:   100 * time.Millisecond,
		FaultMagnitude: 1.5,
		Seed:           1,

		AgentSocket:         "/tmp/edge-agent.sock",
		AgentCallTimeout:    2 * time.Second,
		AgentConnectTimeout: 5 * time.Second,
		ModelName:           "autoencoder",
		ModelVersion:        "v1",
		ModelPath:           "models/autoencoder/v1/model.onnx",

		WindowSize:        50,
		InferenceInterval: time.Second,
		InferenceTimeout:  2 * time.Second,
		MaxRetries:        3,
		CaptureStride:     10,
		HaltTimeout:       5 * time.Second,

		TiePolicy:             detector.Strict.String(),
		ThresholdSpanFraction: detector.DefaultSpanFraction,
		Thresholds:            map[string]float64{},

		EventQueueSize: 10_000,
		WorkerCount:    2,

		DedupeSize:         1024,
		ModelDir:           "models",
		OTAQueueSize:       8,
		DownloadTimeout:    time.Minute,
		DeploymentDebounce: 250 * time.Millisecond,

		MQTTClientID:        "windfarm-edge",
		MQTTQoS:             1,
		MQTTTopicPrefix:     "windfarm",
		MQTTDeploymentTopic: "windfarm/ota/deployments",

		PostgresTable: "anomaly_events",
		CaptureDir:    "captures",
	}
}

// Validate checks the values the service cannot run without.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Addr == "" {
		add("addr must not be empty")
	}
	if c.TurbineCount <= 0 {
		add("turbine_count must be positive")
	}
	if c.BufferCapacity <= 0 {
		add("buffer_capacity must be positive")
	}
	if c.WindowSize <= 0 || c.WindowSize > c.BufferCapacity {
		add("window_size must be in 1..buffer_capacity (%d)", c.BufferCapacity)
	}
	if c.TickInterval <= 0 || c.InferenceInterval <= 0 {
		add("tick_interval and inference_interval must be positive")
	}
	if c.FaultMagnitude < 1 {
		add("fault_magnitude must be at least 1")
	}
	if c.AgentSocket == "" {
		add("agent_socket must not be empty")
	}
	if c.AgentConnectTimeout <= 0 {
		add("agent_connect_timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		add("max_retries must be positive")
	}
	if c.EventQueueSize <= 0 || c.WorkerCount <= 0 {
		add("queue_size and worker_count must be positive")
	}
	if _, err := detector.ParsePolicy(c.TiePolicy); err != nil {
		add("tie_policy: %v", err)
	}
	if c.DefaultThreshold < 0 {
		add("default_threshold must not be negative")
	}
	if c.ThresholdSpanFraction <= 0 {
		add("threshold_span_fraction must be positive")
	}
	for name, v := range c.Thresholds {
		if _, err := model.ParseChannel(name); err != nil {
			add("thresholds: %v", err)
		}
		if v < 0 {
			add("thresholds.%s must not be negative", name)
		}
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		add("mqtt_qos must be 0, 1 or 2")
	}
	if c.InfluxURL != "" && (c.InfluxOrg == "" || c.InfluxBucket == "") {
		add("influx_org and influx_bucket are required with influx_url")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ChannelThresholds converts Thresholds to channel keys. Call after Validate.
func (c *Config) ChannelThresholds() map[model.Channel]float64 {
	out := make(map[model.Channel]float64, len(c.Thresholds))
	for name, v := range c.Thresholds {
		ch, err := model.ParseChannel(name)
		if err != nil {
			continue
		}
		out[ch] = v
	}
	return out
}
