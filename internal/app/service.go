// Package service wires the simulator, controller, OTA listener and
// publication pipeline into one process and implements the dependencies
// required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/okian/windfarm/internal/adapters/agent"
	"github.com/okian/windfarm/internal/adapters/mq/mqtt"
	eventqueue "github.com/okian/windfarm/internal/adapters/mq/queue"
	workerpool "github.com/okian/windfarm/internal/adapters/mq/worker"
	"github.com/okian/windfarm/internal/adapters/storage"
	"github.com/okian/windfarm/internal/config"
	"github.com/okian/windfarm/internal/controller"
	"github.com/okian/windfarm/internal/domain/dedupe"
	"github.com/okian/windfarm/internal/domain/detector"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/modelguard"
	"github.com/okian/windfarm/internal/ota"
	"github.com/okian/windfarm/internal/simulator"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

const (
	stopTimeout        = 10 * time.Second
	bootstrapRetryBase = 250 * time.Millisecond
	bootstrapRetryMax  = 15 * time.Second
)

// Service owns every runtime component of the edge node.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	sim        *simulator.Simulator
	agent      *agent.Client
	guard      *modelguard.Guard
	detector   *detector.Detector
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	sinks      *storage.Manager
	mqttClient *mqtt.Client
	publisher  *mqtt.Publisher
	listener   *ota.Listener
	controller *controller.Controller

	// Options
	agentDialer func(ctx context.Context, addr string) (net.Conn, error)
	extraSinks  []storage.Sink
	trace       *simulator.Trace

	// State
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:    cfg,
		logger: logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts the components in dependency order: simulator,
// agent connection, active model, sinks, publisher workers, OTA listener and
// finally the controller loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting wind farm service...")

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.start(runCtx); err != nil {
		cancel()
		s.teardown(context.Background())
		return err
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "wind farm service started",
		logger.Int("turbines", s.cfg.TurbineCount),
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.EventQueueSize),
		logger.String("model", s.guard.Active().AgentName()),
		logger.Any("sinks", s.sinks.Names()),
	)
	return nil
}

func (s *Service) start(ctx context.Context) error {
	if err := s.startSimulator(ctx); err != nil {
		return err
	}

	agentOpts := []agent.Option{agent.WithCallTimeout(s.cfg.AgentCallTimeout)}
	if s.agentDialer != nil {
		agentOpts = append(agentOpts, agent.WithContextDialer(s.agentDialer))
	}
	client, err := agent.NewClient(s.cfg.AgentSocket, agentOpts...)
	if err != nil {
		return fmt.Errorf("connect edge agent: %w", err)
	}
	s.agent = client
	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.AgentConnectTimeout)
	err = client.WaitReady(dialCtx)
	cancelDial()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("connect edge agent: %w", err)
		}
		s.logger.Warn(ctx, "edge agent not reachable, starting without a model",
			logger.String("socket", s.cfg.AgentSocket),
			logger.Duration("waited", s.cfg.AgentConnectTimeout),
			logger.Error(err))
	}

	s.guard = modelguard.New(client)
	s.bootstrapModel(ctx)

	policy, err := detector.ParsePolicy(s.cfg.TiePolicy)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	s.detector = detector.New(
		detector.WithPolicy(policy),
		detector.WithDefaultThreshold(s.cfg.DefaultThreshold),
		detector.WithSpanFraction(s.cfg.ThresholdSpanFraction),
		detector.WithThresholds(s.cfg.ChannelThresholds()),
	)

	if err := s.startSinks(ctx); err != nil {
		return err
	}

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.cfg.EventQueueSize))
	s.workerPool = workerpool.NewPool(s.cfg.WorkerCount, s.eventQueue, s.sinks)
	s.workerPool.Start(ctx)
	metrics.UpdateWorkerCount(s.cfg.WorkerCount)

	if err := s.startOTA(ctx); err != nil {
		return err
	}

	s.controller = controller.New(s.sim, s.guard, client, s.detector, s.eventQueue,
		controller.WithWindowSize(s.cfg.WindowSize),
		controller.WithInterval(s.cfg.InferenceInterval),
		controller.WithInferenceTimeout(s.cfg.InferenceTimeout),
		controller.WithMaxRetries(s.cfg.MaxRetries),
		controller.WithCaptureStride(s.cfg.CaptureStride),
		controller.WithCapturer(client),
		controller.WithOwnedConn(client),
		controller.WithHaltTimeout(s.cfg.HaltTimeout),
	)
	return s.controller.Start(ctx)
}

func (s *Service) startSimulator(ctx context.Context) error {
	trace := s.trace
	if trace == nil && s.cfg.TracePath != "" {
		t, err := simulator.LoadCSVTrace(s.cfg.TracePath)
		if err != nil {
			return fmt.Errorf("load trace: %w", err)
		}
		trace = t
	}

	opts := []simulator.Option{
		simulator.WithTurbineCount(s.cfg.TurbineCount),
		simulator.WithBufferCapacity(s.cfg.BufferCapacity),
		simulator.WithTickInterval(s.cfg.TickInterval),
		simulator.WithFaultMagnitude(s.cfg.FaultMagnitude),
		simulator.WithSeed(s.cfg.Seed),
	}
	if trace != nil {
		opts = append(opts, simulator.WithTrace(trace))
	}
	s.sim = simulator.New(opts...)
	return s.sim.Start(ctx)
}

// bootstrapModel loads the configured model. A failure is not fatal: the
// controller skips until an OTA deployment provides a model.
func (s *Service) bootstrapModel(ctx context.Context) {
	if s.cfg.ModelName == "" || s.cfg.ModelPath == "" {
		s.logger.Warn(ctx, "no initial model configured, waiting for a deployment")
		return
	}
	initial := model.ModelHandle{Name: s.cfg.ModelName, Version: s.cfg.ModelVersion, Path: s.cfg.ModelPath}
	if _, err := s.guard.Install(ctx, initial); err != nil {
		s.logger.Warn(ctx, "initial model not loaded, retrying in background",
			logger.String("model", initial.AgentName()), logger.Error(err))
		s.wg.Add(1)
		go s.retryBootstrap(ctx, initial)
	}
}

// retryBootstrap keeps installing the initial model until it succeeds, a
// deployment activates another model, or ctx ends.
func (s *Service) retryBootstrap(ctx context.Context, initial model.ModelHandle) {
	defer s.wg.Done()

	delay := bootstrapRetryBase
	for attempt := 2; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		installed, err := s.guard.Install(ctx, initial)
		if err == nil {
			if installed {
				s.logger.Info(ctx, "initial model loaded", logger.String("model", initial.AgentName()), logger.Int("attempt", attempt))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug(ctx, "initial model still not loaded", logger.Int("attempt", attempt), logger.Error(err))
		delay = min(2*delay, bootstrapRetryMax)
	}
}

func (s *Service) startSinks(ctx context.Context) error {
	s.sinks = storage.NewManager(s.extraSinks...)

	if s.cfg.PostgresDSN != "" {
		archive, err := storage.OpenPostgres(ctx, s.cfg.PostgresDSN, s.cfg.PostgresTable)
		if err != nil {
			s.logger.Warn(ctx, "postgres archive disabled", logger.Error(err))
		} else {
			s.sinks.Add(archive)
		}
	}

	if s.cfg.InfluxURL != "" {
		influx := storage.NewInfluxTelemetry(s.cfg.InfluxURL, s.cfg.InfluxToken, s.cfg.InfluxOrg, s.cfg.InfluxBucket)
		if err := influx.Ping(ctx); err != nil {
			s.logger.Warn(ctx, "influxdb not reachable yet, writes will be retried per envelope", logger.Error(err))
		}
		s.sinks.Add(influx)
	}

	if s.cfg.CaptureDir != "" {
		file, err := storage.NewFileSink(s.cfg.CaptureDir)
		if err != nil {
			return fmt.Errorf("capture dir: %w", err)
		}
		s.sinks.Add(file)
	}

	if s.mqttClient == nil && s.cfg.MQTTBroker != "" {
		client, err := mqtt.NewClient(s.cfg.MQTTBroker,
			mqtt.WithClientID(s.cfg.MQTTClientID),
			mqtt.WithCredentials(s.cfg.MQTTUsername, s.cfg.MQTTPassword),
			mqtt.WithQoS(byte(s.cfg.MQTTQoS)), //nolint:gosec // validated to 0..2
		)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		s.mqttClient = client
	}
	if s.mqttClient != nil {
		if err := s.mqttClient.Connect(ctx); err != nil {
			s.logger.Warn(ctx, "mqtt broker unavailable, publishing disabled", logger.Error(err))
			_ = s.mqttClient.Close()
			s.mqttClient = nil
		} else {
			s.publisher = mqtt.NewPublisher(s.mqttClient, s.cfg.MQTTTopicPrefix)
			s.sinks.Add(s.publisher)
		}
	}
	return nil
}

func (s *Service) startOTA(ctx context.Context) error {
	fetcher := ota.NewDownloader(s.cfg.ModelDir, ota.WithDownloadTimeout(s.cfg.DownloadTimeout))
	opts := []ota.Option{
		ota.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))),
		ota.WithQueueSize(s.cfg.OTAQueueSize),
	}
	if s.publisher != nil {
		opts = append(opts, ota.WithStatusPublisher(s.publisher))
	}
	s.listener = ota.New(s.guard, fetcher, opts...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listener.Run(ctx)
	}()

	if s.mqttClient != nil && s.cfg.MQTTDeploymentTopic != "" {
		if err := s.listener.SubscribeNotices(ctx, s.mqttClient, s.cfg.MQTTDeploymentTopic); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.cfg.MQTTDeploymentTopic, err)
		}
	}

	if s.cfg.DeploymentDir != "" {
		watcher := ota.NewDirWatcher(s.cfg.DeploymentDir, s.listener, ota.WithDebounce(s.cfg.DeploymentDebounce))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := watcher.Run(ctx); err != nil {
				s.logger.Error(ctx, "deployment directory watcher stopped", logger.Error(err))
			}
		}()
	}
	return nil
}

// Stop gracefully shuts down the service. Controller loops halt first and
// release the agent connection, then queued envelopes are drained to the
// sinks before they are closed.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping wind farm service...")
	s.teardown(ctx)
	s.started = false
	s.logger.Info(ctx, "wind farm service stopped")
}

// teardown releases whatever start managed to build. Must be called with
// s.mu held.
func (s *Service) teardown(ctx context.Context) {
	if s.controller != nil && s.controller.Running() {
		if err := s.controller.Halt(); err != nil {
			s.logger.Warn(ctx, "controller halt", logger.Error(err))
		}
	} else if s.agent != nil {
		_ = s.agent.Close()
	}

	if s.sim != nil && s.sim.Running() {
		if err := s.sim.Stop(); err != nil {
			s.logger.Warn(ctx, "simulator stop", logger.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.workerPool != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "publisher drain incomplete", logger.Error(err))
		}
		cancel()
	}

	if s.sinks != nil {
		if err := s.sinks.Close(); err != nil {
			s.logger.Warn(ctx, "closing sinks", logger.Error(err))
		}
	}
	if s.mqttClient != nil {
		_ = s.mqttClient.Close()
	}
}

// TurbineStatus returns the state of every simulated turbine.
func (s *Service) TurbineStatus() []simulator.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sim == nil {
		return nil
	}
	return s.sim.Status()
}

// InjectFault toggles a fault on one channel of a turbine and returns the new
// state.
func (s *Service) InjectFault(turbineID string, c model.Channel) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sim == nil {
		return false, fmt.Errorf("%w: %s", simulator.ErrUnknownTurbine, turbineID)
	}
	return s.sim.InjectFault(turbineID, c)
}

// ActiveModel returns the model currently serving inference.
func (s *Service) ActiveModel() model.ModelHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.guard == nil {
		return model.ModelHandle{}
	}
	return s.guard.Active()
}

// SubmitDeployment queues a manually triggered deployment notice.
func (s *Service) SubmitDeployment(ctx context.Context, n model.DeploymentNotice) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return fmt.Errorf("%w: service not started", ota.ErrBusy)
	}
	return s.listener.Submit(ctx, n, "http")
}

// OTAState returns the phase of the OTA listener.
func (s *Service) OTAState() ota.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ota.Idle
	}
	return s.listener.State()
}

// OTAHistory returns recent deployment outcomes.
func (s *Service) OTAHistory() []ota.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.History()
}

// ControllerErr reports turbines whose inference loop is faulted.
func (s *Service) ControllerErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.controller == nil {
		return nil
	}
	return s.controller.Err()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"turbines":    s.cfg.TurbineCount,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.eventQueue.Len(context.Background())
	metrics.UpdateQueueSize(queueLen)

	stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	stats["queueLength"] = queueLen
	stats["published"] = s.workerPool.Processed()
	stats["publishFailures"] = s.workerPool.Failed()
	stats["sinks"] = s.sinks.Names()
	stats["controller"] = s.controller.Stats()
	stats["controllerFaults"] = s.controller.Faults()
	stats["activeModel"] = s.guard.Active()
	stats["modelSwaps"] = s.guard.Swaps()
	stats["otaState"] = s.listener.State().String()
	stats["otaPending"] = s.listener.Pending()
	return stats
}
