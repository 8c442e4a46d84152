package service

import (
	"context"
	"net"

	"github.com/okian/windfarm/internal/adapters/mq/mqtt"
	"github.com/okian/windfarm/internal/adapters/storage"
	"github.com/okian/windfarm/internal/simulator"
	"github.com/okian/windfarm/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAgentDialer replaces the Unix socket dialer used to reach the edge agent.
func WithAgentDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(s *Service) {
		s.agentDialer = dial
	}
}

// WithSinks adds publication backends next to the configured ones.
func WithSinks(sinks ...storage.Sink) Option {
	return func(s *Service) {
		s.extraSinks = append(s.extraSinks, sinks...)
	}
}

// WithMQTTClient uses an existing broker client instead of dialing the
// configured broker.
func WithMQTTClient(c *mqtt.Client) Option {
	return func(s *Service) {
		s.mqttClient = c
	}
}

// WithTrace replays t instead of the configured or synthetic trace.
func WithTrace(t *simulator.Trace) Option {
	return func(s *Service) {
		s.trace = t
	}
}
