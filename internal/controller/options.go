package controller

import (
	"io"
	"time"

	"github.com/okian/windfarm/pkg/logger"
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithWindowSize sets how many samples make up one inference window.
func WithWindowSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithInterval sets the inference period of each loop.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithInferenceTimeout bounds one Predict call.
func WithInferenceTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.inferenceTimeout = d
		}
	}
}

// WithMaxRetries sets how many consecutive failures fault a turbine loop.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the delay bounds applied while a loop is faulted.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Controller) {
		if base > 0 {
			c.backoffBase = base
		}
		if maxDelay >= c.backoffBase {
			c.backoffMax = maxDelay
		}
	}
}

// WithCaptureStride emits a capture record every n-th inference per turbine.
// Zero disables capture.
func WithCaptureStride(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.captureStride = n
		}
	}
}

// WithCapturer forwards captures to the agent's capture facility as well as
// the publication queue.
func WithCapturer(cp Capturer) Option {
	return func(c *Controller) {
		c.capturer = cp
	}
}

// WithOwnedConn hands the controller a connection it closes on Halt.
func WithOwnedConn(conn io.Closer) Option {
	return func(c *Controller) {
		c.owned = conn
	}
}

// WithHaltTimeout bounds how long Halt waits for loops to exit.
func WithHaltTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.haltTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}
