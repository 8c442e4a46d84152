// Package mqtt connects the edge device to the site broker: anomalies and
// OTA job outcomes go out, deployment notices come in.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/okian/windfarm/pkg/logger"
)

// Default client configuration constants.
const (
	defaultTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Handler receives messages from a subscribed topic.
type Handler func(topic string, payload []byte)

// Client wraps a paho client with context-aware publish and automatic
// resubscription after reconnects.
type Client struct {
	broker   string
	clientID string
	username string
	password string
	qos      byte
	timeout  time.Duration
	client   paho.Client
	logger   logger.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// NewClient prepares a client for broker. Connect must be called before use.
func NewClient(broker string, opts ...Option) (*Client, error) {
	if broker == "" {
		return nil, ErrNoBroker
	}
	c := &Client{
		broker:   broker,
		clientID: fmt.Sprintf("windfarm-edge-%d", time.Now().Unix()),
		qos:      1,
		timeout:  defaultTimeout,
		logger:   logger.Get().Named("mqtt"),
		subs:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = paho.NewClient(c.pahoOptions())
	}
	return c, nil
}

func (c *Client) pahoOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(c.clientID)
	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Error(context.Background(), "mqtt connection lost", logger.Error(err))
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.logger.Info(context.Background(), "reconnecting to mqtt broker")
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.resubscribe()
	})
	return opts
}

// Connect connects to the broker and waits up to the configured timeout.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.wait(ctx, c.client.Connect(), "connect"); err != nil {
		return err
	}
	c.logger.Info(ctx, "connected to mqtt broker", logger.String("broker", c.broker))
	return nil
}

// Publish sends payload to topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("%w: publish %s", ErrNotConnected, topic)
	}
	return c.wait(ctx, c.client.Publish(topic, c.qos, false, payload), "publish "+topic)
}

// Subscribe registers handler for topic. The subscription is restored after
// every reconnect.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if err := c.subscribe(topic, handler); err != nil {
		return err
	}
	c.logger.Info(context.Background(), "subscribed", logger.String("topic", topic))
	return nil
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, c.qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return c.wait(context.Background(), token, "subscribe "+topic)
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.Warn(context.Background(), "resubscribe failed", logger.String("topic", topic), logger.Error(err))
		}
	}
}

func (c *Client) wait(ctx context.Context, token paho.Token, op string) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt %s: %w", op, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(disconnectQuiesce)
	c.logger.Info(context.Background(), "disconnected from mqtt broker")
	return nil
}
