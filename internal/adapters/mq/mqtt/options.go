package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/okian/windfarm/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithClientID sets the MQTT client id.
func WithClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithQoS sets the QoS used for publish and subscribe.
func WithQoS(qos byte) Option {
	return func(c *Client) {
		if qos <= 2 {
			c.qos = qos
		}
	}
}

// WithTimeout bounds connect, publish and subscribe waits.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPahoClient replaces the underlying paho client, mainly for tests.
func WithPahoClient(pc paho.Client) Option {
	return func(c *Client) {
		c.client = pc
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
