// Package agent talks to the edge inference agent over gRPC on a local
// socket. Messages travel with a JSON codec instead of protobuf.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Default client configuration constants.
const (
	defaultCallTimeout = 2 * time.Second
	defaultBackoffBase = 200 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
)

// Client is a thin request/response wrapper around the agent service.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	dialer      func(ctx context.Context, addr string) (net.Conn, error)
	socket      string
	logger      logger.Logger
}

// Dial connects to the agent listening on socketPath and waits until the
// connection is ready or ctx ends. Connection failures are retried with
// exponential backoff.
func Dial(ctx context.Context, socketPath string, opts ...Option) (*Client, error) {
	c, err := NewClient(socketPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.WaitReady(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewClient returns a client for socketPath that starts connecting in the
// background. Calls made before the agent is reachable fail with
// ErrUnavailable.
func NewClient(socketPath string, opts ...Option) (*Client, error) {
	c := &Client{
		callTimeout: defaultCallTimeout,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		logger:      logger.Get().Named("agent"),
	}
	for _, opt := range opts {
		opt(c)
	}

	bc := backoff.DefaultConfig
	bc.BaseDelay = c.backoffBase
	bc.MaxDelay = c.backoffMax

	target := "unix://" + socketPath
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: bc, MinConnectTimeout: c.callTimeout}),
	}
	if c.dialer != nil {
		target = "passthrough:///" + socketPath
		dialOpts = append(dialOpts, grpc.WithContextDialer(c.dialer))
	}

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent client %s: %w", socketPath, err)
	}
	c.conn = conn
	c.socket = socketPath
	conn.Connect()
	return c, nil
}

// WaitReady blocks until the connection is ready or ctx ends. The client
// stays usable after a timeout and keeps reconnecting.
func (c *Client) WaitReady(ctx context.Context) error {
	socketPath := c.socket
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		switch state {
		case connectivity.Ready:
			c.logger.Info(ctx, "connected to edge agent", logger.String("socket", socketPath))
			return nil
		case connectivity.TransientFailure:
			c.logger.Warn(ctx, "edge agent not reachable, backing off", logger.String("socket", socketPath))
		case connectivity.Idle:
			c.conn.Connect()
		case connectivity.Shutdown:
			return fmt.Errorf("%w: connection shut down", ErrUnavailable)
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, socketPath, ctx.Err())
		}
	}
}

// LoadModel asks the agent to load the model at path under name.
func (c *Client) LoadModel(ctx context.Context, name, path string) error {
	return c.invoke(ctx, MethodLoadModel, &LoadModelRequest{Name: name, Path: path}, &Empty{})
}

// UnloadModel asks the agent to release a model.
func (c *Client) UnloadModel(ctx context.Context, name string) error {
	return c.invoke(ctx, MethodUnloadModel, &UnloadModelRequest{Name: name}, &Empty{})
}

// ListModels returns the models currently loaded in the agent.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp := &ListModelsResponse{}
	if err := c.invoke(ctx, MethodListModels, &ListModelsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Predict runs one window through a loaded model and returns the
// reconstruction.
func (c *Client) Predict(ctx context.Context, name string, tensor [][]float64) ([][]float64, error) {
	resp := &PredictResponse{}
	if err := c.invoke(ctx, MethodPredict, &PredictRequest{Name: name, Tensor: tensor}, resp); err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// CaptureData hands one inference to the agent's capture facility.
func (c *Client) CaptureData(ctx context.Context, req CaptureRequest) error { //nolint:gocritic // hugeParam: request is sent by value
	return c.invoke(ctx, MethodCaptureData, &req, &Empty{})
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	err := c.conn.Invoke(ctx, method, req, resp)
	metrics.RecordAgentCall(shortMethod(method), callResult(err))
	if err != nil {
		return mapError(method, err)
	}
	return nil
}

func callResult(err error) string {
	if err == nil {
		return "ok"
	}
	return status.Code(err).String()
}

func shortMethod(method string) string {
	return method[len(serviceName)+2:]
}

func mapError(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w: %w", shortMethod(method), ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", shortMethod(method), err)
	}

	var kind error
	switch st.Code() {
	case codes.NotFound:
		kind = ErrModelNotFound
	case codes.AlreadyExists:
		kind = ErrModelAlreadyLoaded
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		kind = ErrUnavailable
	case codes.InvalidArgument:
		kind = ErrInvalidRequest
	case codes.FailedPrecondition:
		kind = ErrLoadFailed
	default:
		return fmt.Errorf("%s: %w", shortMethod(method), err)
	}
	return fmt.Errorf("%s: %w: %s", shortMethod(method), kind, st.Message())
}
