// Package modelguard keeps exactly one model active in the edge agent.
//
// Inference runs under the read lock and a swap holds the write lock, so no
// loop ever predicts against a model that is half unloaded.
package modelguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/windfarm/internal/adapters/agent"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/logger"
	"github.com/okian/windfarm/pkg/metrics"
)

// Loader loads and unloads models in the edge agent.
type Loader interface {
	LoadModel(ctx context.Context, name, path string) error
	UnloadModel(ctx context.Context, name string) error
}

// Guard holds the single active ModelHandle.
type Guard struct {
	mu     sync.RWMutex
	loader Loader
	active model.ModelHandle
	swaps  uint64
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the load timestamp source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a guard with no active model.
func New(loader Loader, opts ...Option) *Guard {
	g := &Guard{
		loader: loader,
		now:    time.Now,
		logger: logger.Get().Named("modelguard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Active returns the active handle; the zero handle when none is loaded.
func (g *Guard) Active() model.ModelHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Swaps returns how many swaps succeeded.
func (g *Guard) Swaps() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.swaps
}

// Use runs fn with the active handle while holding the read lock. A swap
// waits for every running fn to return.
func (g *Guard) Use(ctx context.Context, fn func(ctx context.Context, active model.ModelHandle) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.active.IsZero() {
		return ErrNoActiveModel
	}
	return fn(ctx, g.active)
}

// Swap replaces the active model with next. The previous version is
// unloaded first; when next fails to load the previous one is loaded again
// and stays active. If that reload fails too the agent holds no model, so the
// guard clears its handle and callers see ErrNoActiveModel until a later swap
// succeeds.
func (g *Guard) Swap(ctx context.Context, next model.ModelHandle) (model.ModelHandle, error) {
	if next.Name == "" || next.Path == "" {
		return model.ModelHandle{}, ErrInvalidHandle
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.swapLocked(ctx, next)
}

// Install loads h only while no model is active. It reports false without
// touching the agent when another model got there first.
func (g *Guard) Install(ctx context.Context, h model.ModelHandle) (bool, error) {
	if h.Name == "" || h.Path == "" {
		return false, ErrInvalidHandle
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active.IsZero() {
		return false, nil
	}
	if _, err := g.swapLocked(ctx, h); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Guard) swapLocked(ctx context.Context, next model.ModelHandle) (model.ModelHandle, error) {
	prev := g.active
	if !prev.IsZero() && prev.Name == next.Name && prev.Version == next.Version {
		return prev, fmt.Errorf("%w: %s", ErrAlreadyActive, next.AgentName())
	}

	log := g.logger.With(
		logger.String("from", prev.AgentName()),
		logger.String("to", next.AgentName()))

	if !prev.IsZero() {
		if err := g.loader.UnloadModel(ctx, prev.AgentName()); err != nil && !errors.Is(err, agent.ErrModelNotFound) {
			metrics.RecordModelSwap("unload_failed")
			log.Error(ctx, "unloading previous model failed, keeping it", logger.Error(err))
			return prev, fmt.Errorf("%w: unload %s: %w", ErrSwapFailed, prev.AgentName(), err)
		}
	}

	if err := g.loader.LoadModel(ctx, next.AgentName(), next.Path); err != nil {
		metrics.RecordModelSwap("load_failed")
		log.Error(ctx, "loading model failed", logger.Error(err))
		swapErr := fmt.Errorf("%w: load %s: %w", ErrSwapFailed, next.AgentName(), err)
		if prev.IsZero() {
			return prev, swapErr
		}
		if rerr := g.loader.LoadModel(ctx, prev.AgentName(), prev.Path); rerr != nil && !errors.Is(rerr, agent.ErrModelAlreadyLoaded) {
			log.Error(ctx, "reloading previous model failed, no model active", logger.Error(rerr))
			g.active = model.ModelHandle{}
			metrics.SetActiveModel("", "")
			return g.active, errors.Join(swapErr, fmt.Errorf("%w: %w", ErrRollbackFailed, rerr))
		}
		log.Warn(ctx, "previous model restored")
		return prev, swapErr
	}

	next.LoadedAt = g.now()
	g.active = next
	g.swaps++
	metrics.RecordModelSwap("ok")
	metrics.SetActiveModel(next.Name, next.Version)
	log.Info(ctx, "model swapped")
	return next, nil
}
