// Package storage holds the publication sinks anomaly events and capture
// records are written to after leaving the queue.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

// Sink is one publication backend.
type Sink interface {
	Write(ctx context.Context, e model.Envelope) error
	Name() string
	Close() error
}

// Manager fans every envelope out to all sinks. A failing sink never stops
// the others.
type Manager struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger logger.Logger
}

// NewManager creates a manager over sinks.
func NewManager(sinks ...Sink) *Manager {
	return &Manager{
		sinks:  sinks,
		logger: logger.Get().Named("storage"),
	}
}

// Add registers another sink.
func (m *Manager) Add(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Names lists the registered sinks.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Write hands e to every sink and reports the sinks that failed.
func (m *Manager) Write(ctx context.Context, e model.Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, e); err != nil {
			metrics.RecordSinkWrite(s.Name(), "error")
			m.logger.Warn(ctx, "sink write failed",
				logger.String("sink", s.Name()),
				logger.String("kind", string(e.Kind)),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSinkFailed, s.Name(), err))
			continue
		}
		metrics.RecordSinkWrite(s.Name(), "ok")
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.logger.Error(context.Background(), "closing sink failed", logger.String("sink", s.Name()), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
