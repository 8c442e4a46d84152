// Package ota installs new model versions announced by deployment notices.
//
// Notices arrive over MQTT, through a watched drop directory or from the HTTP
// API. They are queued and handled one at a time: download the package,
// verify it, then swap it in through the model guard.
package ota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/windfarm/internal/domain/dedupe"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/modelguard"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

// Default listener configuration constants.
const (
	defaultQueueSize   = 16
	defaultHistorySize = 50
)

// Job outcomes reported in JobStatus.Status.
const (
	StatusSucceeded     = "succeeded"
	StatusFailed        = "failed"
	StatusDuplicate     = "duplicate"
	StatusRejected      = "rejected"
	StatusAlreadyActive = "already_active"
)

// Swapper replaces the active model.
type Swapper interface {
	Swap(ctx context.Context, next model.ModelHandle) (model.ModelHandle, error)
	Active() model.ModelHandle
}

// Fetcher retrieves a model package and returns its local path and size.
type Fetcher interface {
	Fetch(ctx context.Context, n model.DeploymentNotice) (string, int64, error)
}

// StatusPublisher reports job outcomes upstream.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, s JobStatus) error
}

// JobStatus is the outcome of one deployment notice.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	ModelName string    `json:"model_name"`
	Version   string    `json:"version"`
	Source    string    `json:"source,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	TS        time.Time `json:"ts"`
}

type job struct {
	notice model.DeploymentNotice
	source string
}

// Listener is the OTA state machine.
type Listener struct {
	guard   Swapper
	fetcher Fetcher
	status  StatusPublisher
	dedupe  dedupe.Deduper

	queueSize   int
	historySize int
	pending     chan job

	state   atomic.Int32
	mu      sync.Mutex // serializes jobs
	histMu  sync.RWMutex
	history []JobStatus

	logger logger.Logger
}

// New creates an idle listener.
func New(guard Swapper, fetcher Fetcher, opts ...Option) *Listener {
	l := &Listener{
		guard:       guard,
		fetcher:     fetcher,
		dedupe:      dedupe.NewInMemoryDeduper(),
		queueSize:   defaultQueueSize,
		historySize: defaultHistorySize,
		logger:      logger.Get().Named("ota"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.pending = make(chan job, l.queueSize)
	metrics.UpdateOTAState(int(Idle))
	return l
}

// State returns the current phase.
func (l *Listener) State() State { return State(l.state.Load()) }

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	metrics.UpdateOTAState(int(s))
}

// Pending returns how many notices are queued.
func (l *Listener) Pending() int { return len(l.pending) }

// Submit validates a notice and queues it without blocking.
func (l *Listener) Submit(ctx context.Context, n model.DeploymentNotice, source string) error {
	if err := n.Validate(); err != nil {
		l.report(ctx, n, source, StatusRejected, err)
		return err
	}
	select {
	case l.pending <- job{notice: n, source: source}:
		l.logger.Info(ctx, "deployment notice queued",
			logger.String("job", n.JobID), logger.String("source", source))
		return nil
	default:
		return fmt.Errorf("%w: job %s", ErrBusy, n.JobID)
	}
}

// SubmitPayload decodes a JSON notice and queues it.
func (l *Listener) SubmitPayload(ctx context.Context, payload []byte, source string) error {
	var n model.DeploymentNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidNotice, err)
	}
	return l.Submit(ctx, n, source)
}

// Run handles queued notices until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-l.pending:
			if err := l.handle(ctx, j.notice, j.source); err != nil {
				l.logger.Debug(ctx, "deployment job ended with error", logger.Error(err))
			}
		}
	}
}

// Handle processes one notice synchronously. On failure the listener is back
// in Idle and the previous model keeps serving.
func (l *Listener) Handle(ctx context.Context, n model.DeploymentNotice) error {
	return l.handle(ctx, n, "direct")
}

func (l *Listener) handle(ctx context.Context, n model.DeploymentNotice, source string) error {
	if err := n.Validate(); err != nil {
		l.report(ctx, n, source, StatusRejected, err)
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	log := l.logger.With(
		logger.String("job", n.JobID),
		logger.String("model", n.ModelName),
		logger.String("version", n.Version))

	if l.dedupe.SeenAndRecord(ctx, n.JobID) {
		log.Info(ctx, "duplicate deployment notice ignored")
		l.report(ctx, n, source, StatusDuplicate, nil)
		return fmt.Errorf("%w: %s", ErrDuplicateJob, n.JobID)
	}

	if active := l.guard.Active(); active.Name == n.ModelName && active.Version == n.Version {
		log.Info(ctx, "model version already active")
		l.report(ctx, n, source, StatusAlreadyActive, nil)
		return nil
	}

	l.setState(Downloading)
	path, size, err := l.fetcher.Fetch(ctx, n)
	if err != nil {
		return l.fail(ctx, log, n, source, fmt.Errorf("download: %w", err))
	}
	metrics.RecordOTADownload(size)
	log.Info(ctx, "package downloaded", logger.String("path", path), logger.Any("bytes", size))

	l.setState(Swapping)
	if _, err := l.guard.Swap(ctx, n.Handle(path)); err != nil {
		if errors.Is(err, modelguard.ErrAlreadyActive) {
			l.setState(Idle)
			l.report(ctx, n, source, StatusAlreadyActive, nil)
			return nil
		}
		return l.fail(ctx, log, n, source, fmt.Errorf("swap: %w", err))
	}

	l.setState(Idle)
	log.Info(ctx, "deployment applied")
	l.report(ctx, n, source, StatusSucceeded, nil)
	return nil
}

// fail returns to Idle and forgets the job id so a redelivered notice is
// tried again.
func (l *Listener) fail(ctx context.Context, log logger.Logger, n model.DeploymentNotice, source string, err error) error {
	l.setState(Idle)
	l.dedupe.Unrecord(ctx, n.JobID)
	metrics.RecordErrorByComponent("ota", "job_failed")
	log.Error(ctx, "deployment failed, keeping previous model", logger.Error(err))
	l.report(ctx, n, source, StatusFailed, err)
	return fmt.Errorf("%w: %s: %w", ErrJobFailed, n.JobID, err)
}

func (l *Listener) report(ctx context.Context, n model.DeploymentNotice, source, status string, err error) {
	s := JobStatus{
		JobID:     n.JobID,
		ModelName: n.ModelName,
		Version:   n.Version,
		Source:    source,
		Status:    status,
		TS:        time.Now().UTC(),
	}
	if err != nil {
		s.Error = err.Error()
	}

	l.histMu.Lock()
	l.history = append(l.history, s)
	if over := len(l.history) - l.historySize; over > 0 {
		l.history = append([]JobStatus(nil), l.history[over:]...)
	}
	l.histMu.Unlock()

	if l.status == nil {
		return
	}
	if perr := l.status.PublishStatus(ctx, s); perr != nil {
		l.logger.Warn(ctx, "publishing job status failed", logger.String("job", n.JobID), logger.Error(perr))
	}
}

// History returns recent job outcomes, oldest first.
func (l *Listener) History() []JobStatus {
	l.histMu.RLock()
	defer l.histMu.RUnlock()
	return append([]JobStatus(nil), l.history...)
}

// Subscriber delivers messages from a broker topic.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// SubscribeNotices queues every notice published on topic.
func (l *Listener) SubscribeNotices(ctx context.Context, sub Subscriber, topic string) error {
	return sub.Subscribe(topic, func(t string, payload []byte) {
		if err := l.SubmitPayload(ctx, payload, "mqtt"); err != nil {
			l.logger.Warn(ctx, "deployment notice dropped", logger.String("topic", t), logger.Error(err))
		}
	})
}
