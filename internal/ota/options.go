package ota

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/okian/windfarm/internal/domain/dedupe"
	"github.com/okian/windfarm/pkg/logger"
)

// Option applies a configuration option to the Listener.
type Option func(*Listener)

// WithStatusPublisher reports job outcomes.
func WithStatusPublisher(p StatusPublisher) Option {
	return func(l *Listener) {
		l.status = p
	}
}

// WithDeduper replaces the job id deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(l *Listener) {
		if d != nil {
			l.dedupe = d
		}
	}
}

// WithQueueSize bounds how many notices wait while a job runs.
func WithQueueSize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithHistorySize bounds how many job outcomes are kept for inspection.
func WithHistorySize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.historySize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// DownloaderOption applies a configuration option to the Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient replaces the resty client.
func WithHTTPClient(c *resty.Client) DownloaderOption {
	return func(d *Downloader) {
		if c != nil {
			d.client = c
		}
	}
}

// WithDownloadTimeout bounds one package download.
func WithDownloadTimeout(t time.Duration) DownloaderOption {
	return func(d *Downloader) {
		if t > 0 {
			d.client.SetTimeout(t)
		}
	}
}

// WithRetries sets how often a failed HTTP download is retried.
func WithRetries(n int) DownloaderOption {
	return func(d *Downloader) {
		if n >= 0 {
			d.client.SetRetryCount(n)
		}
	}
}

// WithDownloaderLogger sets the logger.
func WithDownloaderLogger(lg logger.Logger) DownloaderOption {
	return func(d *Downloader) {
		if lg != nil {
			d.logger = lg
		}
	}
}

// WatcherOption applies a configuration option to the DirWatcher.
type WatcherOption func(*DirWatcher)

// WithDebounce sets how long a file must stay quiet before it is read.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *DirWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(lg logger.Logger) WatcherOption {
	return func(w *DirWatcher) {
		if lg != nil {
			w.logger = lg
		}
	}
}
