package agent

import (
	"context"
	"net"
	"time"

	"github.com/okian/windfarm/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithCallTimeout bounds every RPC that has no earlier deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if maxDelay >= c.backoffBase {
			c.backoffMax = maxDelay
		}
	}
}

// WithContextDialer replaces the Unix socket dialer, mainly for tests.
func WithContextDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(c *Client) {
		c.dialer = dial
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// ServerOption applies a configuration option to the stub Server.
type ServerOption func(*Server)

// WithSmoothing sets the weight given to the newest row when the stub smooths
// a window. Values outside (0, 1] are ignored.
func WithSmoothing(alpha float64) ServerOption {
	return func(s *Server) {
		if alpha > 0 && alpha <= 1 {
			s.alpha = alpha
		}
	}
}

// WithPathCheck makes LoadModel fail when the model path does not exist.
func WithPathCheck(enabled bool) ServerOption {
	return func(s *Server) {
		s.checkPaths = enabled
	}
}

// WithServerLogger sets the stub server logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
