package ota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/okian/windfarm/pkg/logger"
)

const defaultDebounce = 200 * time.Millisecond

// PayloadSubmitter accepts raw JSON notices.
type PayloadSubmitter interface {
	SubmitPayload(ctx context.Context, payload []byte, source string) error
}

// DirWatcher turns *.json files dropped into a directory into deployment
// notices. Files are read once they have been quiet for the debounce period.
type DirWatcher struct {
	dir      string
	target   PayloadSubmitter
	debounce time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDirWatcher creates a watcher for dir.
func NewDirWatcher(dir string, target PayloadSubmitter, opts ...WatcherOption) *DirWatcher {
	w := &DirWatcher{
		dir:      dir,
		target:   target,
		debounce: defaultDebounce,
		logger:   logger.Get().Named("ota-watch"),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory until ctx is done. Files already present when it
// starts are submitted too.
func (w *DirWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info(ctx, "watching deployment drop directory", logger.String("dir", w.dir))

	existing, _ := filepath.Glob(filepath.Join(w.dir, "*.json"))
	for _, p := range existing {
		w.schedule(ctx, p)
	}

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isNotice(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", logger.Error(err))
		}
	}
}

func isNotice(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

// schedule (re)starts the quiet-period timer for a file.
func (w *DirWatcher) schedule(ctx context.Context, p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[p]; ok {
		t.Stop()
	}
	w.timers[p] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, p)
		w.mu.Unlock()
		w.submit(ctx, p)
	})
}

func (w *DirWatcher) submit(ctx context.Context, p string) {
	if ctx.Err() != nil {
		return
	}
	payload, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn(ctx, "reading notice failed", logger.String("file", p), logger.Error(err))
		}
		return
	}
	if err := w.target.SubmitPayload(ctx, payload, "file"); err != nil {
		w.logger.Warn(ctx, "notice from file rejected", logger.String("file", p), logger.Error(err))
	}
}

func (w *DirWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}
