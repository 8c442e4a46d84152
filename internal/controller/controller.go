// Package controller runs one inference loop per turbine against the edge
// agent and publishes the anomalies it finds.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/windfarm/internal/adapters/agent"
	"github.com/okian/windfarm/internal/domain/detector"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/modelguard"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

// Default controller configuration constants.
const (
	defaultWindowSize       = 10
	defaultInterval         = time.Second
	defaultInferenceTimeout = 2 * time.Second
	defaultMaxRetries       = 3
	defaultBackoffBase      = time.Second
	defaultBackoffMax       = 30 * time.Second
	defaultHaltTimeout      = 5 * time.Second
)

// TurbineSource gives read access to the turbines' sample buffers.
type TurbineSource interface {
	TurbineIDs() []string
	Latest(id string, n int) ([]model.SensorSample, bool, error)
}

// Guard runs inference against the single active model.
type Guard interface {
	Use(ctx context.Context, fn func(ctx context.Context, active model.ModelHandle) error) error
}

// Predictor reconstructs a window through a loaded model.
type Predictor interface {
	Predict(ctx context.Context, name string, tensor [][]float64) ([][]float64, error)
}

// Capturer stores inference inputs and outputs in the agent.
type Capturer interface {
	CaptureData(ctx context.Context, req agent.CaptureRequest) error
}

// EventQueue accepts envelopes for publication without blocking.
type EventQueue interface {
	Enqueue(ctx context.Context, e model.Envelope) bool
}

// TurbineFault describes a loop that has failed maxRetries times in a row.
type TurbineFault struct {
	TurbineID string    `json:"turbine_id"`
	Failures  int       `json:"failures"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error"`
}

// Stats are running totals across all loops.
type Stats struct {
	Inferences uint64 `json:"inferences"`
	Skipped    uint64 `json:"skipped"`
	Failures   uint64 `json:"failures"`
	Anomalies  uint64 `json:"anomalies"`
	Captures   uint64 `json:"captures"`
	Dropped    uint64 `json:"dropped"`
}

// Controller owns the per-turbine inference loops.
type Controller struct {
	source    TurbineSource
	guard     Guard
	predictor Predictor
	detector  *detector.Detector
	events    EventQueue
	capturer  Capturer
	owned     io.Closer

	window           int
	interval         time.Duration
	inferenceTimeout time.Duration
	maxRetries       int
	backoffBase      time.Duration
	backoffMax       time.Duration
	captureStride    int
	haltTimeout      time.Duration
	logger           logger.Logger

	inferences atomic.Uint64
	skipped    atomic.Uint64
	failures   atomic.Uint64
	anomalies  atomic.Uint64
	captures   atomic.Uint64
	dropped    atomic.Uint64

	faultsMu sync.RWMutex
	faults   map[string]TurbineFault

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a controller with configuration options.
func New(source TurbineSource, guard Guard, predictor Predictor, det *detector.Detector, events EventQueue, opts ...Option) *Controller {
	c := &Controller{
		source:           source,
		guard:            guard,
		predictor:        predictor,
		detector:         det,
		events:           events,
		window:           defaultWindowSize,
		interval:         defaultInterval,
		inferenceTimeout: defaultInferenceTimeout,
		maxRetries:       defaultMaxRetries,
		backoffBase:      defaultBackoffBase,
		backoffMax:       defaultBackoffMax,
		haltTimeout:      defaultHaltTimeout,
		faults:           make(map[string]TurbineFault),
		logger:           logger.Get().Named("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches one inference loop per turbine.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	ids := c.source.TurbineIDs()
	for _, id := range ids {
		c.wg.Add(1)
		go c.loop(runCtx, id)
	}
	c.logger.Info(ctx, "controller started",
		logger.Int("turbines", len(ids)),
		logger.Int("window", c.window),
		logger.Duration("interval", c.interval),
		logger.String("policy", c.detector.Policy().String()))
	return nil
}

// loopState is owned by one loop goroutine.
type loopState struct {
	lastSeq  uint64
	failures int
	runs     int
}

func (c *Controller) loop(ctx context.Context, id string) {
	defer c.wg.Done()
	log := c.logger.With(logger.String("turbine", id))

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	var st loopState
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := c.interval
		if err := c.step(ctx, id, &st); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay = c.recordFailure(ctx, log, id, &st, err)
		} else if st.failures > 0 {
			c.recover(ctx, log, id, &st)
		}
		timer.Reset(delay)
	}
}

// step runs one inference for a turbine. A nil error covers both a finished
// inference and a deliberate skip.
func (c *Controller) step(ctx context.Context, id string, st *loopState) error {
	window, full, err := c.source.Latest(id, c.window)
	if err != nil {
		return fmt.Errorf("read window: %w", err)
	}
	if !full {
		c.skip(id, "window_not_full")
		return nil
	}
	last := window[len(window)-1]
	if last.Seq == st.lastSeq {
		c.skip(id, "stale_window")
		return nil
	}

	tensor := model.Tensor(window)
	err = c.guard.Use(ctx, func(ctx context.Context, active model.ModelHandle) error {
		return c.infer(ctx, id, last.TS, tensor, active, st)
	})
	if errors.Is(err, modelguard.ErrNoActiveModel) {
		c.skip(id, "no_model")
		return nil
	}
	if err != nil {
		return err
	}
	st.lastSeq = last.Seq
	return nil
}

func (c *Controller) infer(ctx context.Context, id string, ts time.Time, tensor [][]float64, active model.ModelHandle, st *loopState) error {
	callCtx, cancel := context.WithTimeout(ctx, c.inferenceTimeout)
	defer cancel()

	start := time.Now()
	output, err := c.predictor.Predict(callCtx, active.AgentName(), tensor)
	metrics.RecordInferenceLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return fmt.Errorf("predict with %s: %w", active.AgentName(), err)
	}

	errs, err := detector.ReconstructionError(tensor, output)
	if err != nil {
		return err
	}
	c.inferences.Add(1)
	for _, ch := range model.Channels() {
		metrics.UpdateReconstructionError(id, ch.String(), errs[ch])
	}

	for _, ev := range c.detector.Evaluate(id, ts, errs, active) {
		c.anomalies.Add(1)
		metrics.RecordAnomaly(id, ev.Channel.String())
		c.logger.Info(ctx, "anomaly detected",
			logger.String("turbine", id),
			logger.String("channel", ev.Channel.String()),
			logger.Float64("error", ev.Error),
			logger.Float64("threshold", ev.Threshold))
		c.enqueue(ctx, model.Envelope{Kind: model.KindAnomaly, Anomaly: &ev})
	}

	st.runs++
	if c.captureStride > 0 && st.runs%c.captureStride == 0 {
		c.capture(ctx, model.CaptureRecord{
			TurbineID:    id,
			TS:           ts,
			ModelName:    active.Name,
			ModelVersion: active.Version,
			Inputs:       tensor,
			Outputs:      output,
			Errors:       errs,
		}, active)
	}
	return nil
}

func (c *Controller) capture(ctx context.Context, rec model.CaptureRecord, active model.ModelHandle) { //nolint:gocritic // hugeParam: record is copied into the envelope
	c.captures.Add(1)
	c.enqueue(ctx, model.Envelope{Kind: model.KindCapture, Capture: &rec})
	if c.capturer == nil {
		return
	}
	err := c.capturer.CaptureData(ctx, agent.CaptureRequest{
		ModelName: active.AgentName(),
		CaptureID: uuid.NewString(),
		TS:        rec.TS,
		Inputs:    rec.Inputs,
		Outputs:   rec.Outputs,
	})
	if err != nil {
		c.logger.Warn(ctx, "agent capture failed", logger.String("turbine", rec.TurbineID), logger.Error(err))
	}
}

func (c *Controller) enqueue(ctx context.Context, e model.Envelope) {
	if !c.events.Enqueue(ctx, e) {
		c.dropped.Add(1)
		c.logger.Warn(ctx, "publication queue rejected envelope",
			logger.String("turbine", e.TurbineID()),
			logger.String("kind", string(e.Kind)))
	}
}

func (c *Controller) skip(id, reason string) {
	c.skipped.Add(1)
	metrics.RecordInferenceSkipped(id, reason)
}

// recordFailure counts a failed step and returns the delay before the next
// one. Once a loop reaches maxRetries it is faulted and backs off
// exponentially.
func (c *Controller) recordFailure(ctx context.Context, log logger.Logger, id string, st *loopState, err error) time.Duration {
	st.failures++
	c.failures.Add(1)
	metrics.RecordInferenceError(id)

	if st.failures < c.maxRetries {
		log.Warn(ctx, "inference failed, skipping tick", logger.Int("failures", st.failures), logger.Error(err))
		return c.interval
	}

	c.faultsMu.Lock()
	f, already := c.faults[id]
	if !already {
		f = TurbineFault{TurbineID: id, Since: time.Now()}
	}
	f.Failures = st.failures
	f.LastError = err.Error()
	c.faults[id] = f
	c.faultsMu.Unlock()

	if !already {
		metrics.RecordControllerFault(id)
		log.Error(ctx, "inference loop faulted", logger.Int("failures", st.failures), logger.Error(err))
	}
	return c.backoff(st.failures - c.maxRetries)
}

func (c *Controller) backoff(attempt int) time.Duration {
	d := c.backoffBase
	for i := 0; i < attempt && d < c.backoffMax; i++ {
		d *= 2
	}
	if d > c.backoffMax {
		d = c.backoffMax
	}
	return d
}

func (c *Controller) recover(ctx context.Context, log logger.Logger, id string, st *loopState) {
	c.faultsMu.Lock()
	_, faulted := c.faults[id]
	delete(c.faults, id)
	c.faultsMu.Unlock()

	if faulted {
		log.Info(ctx, "inference loop recovered", logger.Int("failures", st.failures))
	}
	st.failures = 0
}

// Faults returns the currently faulted loops ordered by turbine id.
func (c *Controller) Faults() []TurbineFault {
	c.faultsMu.RLock()
	defer c.faultsMu.RUnlock()
	out := make([]TurbineFault, 0, len(c.faults))
	for _, f := range c.faults {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurbineID < out[j].TurbineID })
	return out
}

// Err reports every faulted loop, each wrapping ErrControllerFault, or nil.
func (c *Controller) Err() error {
	var errs []error
	for _, f := range c.Faults() {
		errs = append(errs, fmt.Errorf("%w: %s after %d failures: %s", ErrControllerFault, f.TurbineID, f.Failures, f.LastError))
	}
	return errors.Join(errs...)
}

// Stats returns running totals.
func (c *Controller) Stats() Stats {
	return Stats{
		Inferences: c.inferences.Load(),
		Skipped:    c.skipped.Load(),
		Failures:   c.failures.Load(),
		Anomalies:  c.anomalies.Load(),
		Captures:   c.captures.Load(),
		Dropped:    c.dropped.Load(),
	}
}

// Running reports whether the loops are active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Halt cancels every loop, waits for them, then closes the owned agent
// connection. The connection is closed even when waiting times out.
func (c *Controller) Halt() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(c.haltTimeout):
		err = ErrHaltTimeout
	}

	if c.owned != nil {
		if cerr := c.owned.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close agent connection: %w", cerr))
		}
		c.owned = nil
	}
	c.logger.Info(context.Background(), "controller halted", logger.Uint64("inferences", c.inferences.Load()))
	return err
}
