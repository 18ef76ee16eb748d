// Package connwatch provides exponential backoff schedules and a
// health watcher for the generation backend.
//
// The same [BackoffConfig] drives two things: the rewrite engine's
// per-message generation retries, and the background [Watcher] that
// probes the backend so its reachability can be logged and published.
package connwatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls exponential backoff.
type BackoffConfig struct {
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps delay growth.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failure.
	Multiplier float64

	// PollInterval is how often a healthy service is re-probed.
	PollInterval time.Duration

	// ProbeTimeout limits each probe call.
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig is the schedule used for backend health probes:
// 2s, 4s, 8s ... capped at 60s while down, and a probe every 60s while
// healthy.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// RetryBackoffConfig is the schedule between generation attempts for
// a single message: 1s, 2s, 4s, capped at 8s.
func RetryBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait after the given number of consecutive
// failures (1-based). Non-positive failures yield zero.
func (b BackoffConfig) Delay(failures int) time.Duration {
	if failures <= 0 || b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.InitialDelay)
	for i := 1; i < failures; i++ {
		d *= mult
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && time.Duration(d) > b.MaxDelay {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// WatcherConfig configures a service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs (e.g. "ollama").
	Name string

	// Probe checks service health. Required.
	Probe ProbeFunc

	// Backoff controls probe timing. Zero fields take defaults.
	Backoff BackoffConfig

	// OnReady is called when the service becomes reachable. Optional;
	// called from the watcher goroutine and must not block.
	OnReady func()

	// OnDown is called when the service becomes unreachable, including
	// when the very first probe fails. Optional; must not block.
	OnDown func(err error)

	Logger *slog.Logger
}

// Watcher monitors one service's health.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	done   chan struct{}
}

// Watch starts a watcher that runs until ctx is cancelled.
func Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	defaults := DefaultBackoffConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = defaults.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = defaults.MaxDelay
	}
	if cfg.Backoff.Multiplier <= 0 {
		cfg.Backoff.Multiplier = defaults.Multiplier
	}
	if cfg.Backoff.PollInterval <= 0 {
		cfg.Backoff.PollInterval = defaults.PollInterval
	}
	if cfg.Backoff.ProbeTimeout <= 0 {
		cfg.Backoff.ProbeTimeout = defaults.ProbeTimeout
	}

	w := &Watcher{config: cfg, done: make(chan struct{})}
	go w.run(ctx)
	return w
}

// Done is closed when the watcher goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	logger := w.config.Logger.With("service", w.config.Name)
	failures := 0
	first := true

	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}

		wasReady := w.ready.Load()
		switch {
		case err == nil && !wasReady:
			w.ready.Store(true)
			logger.Info("backend reachable", "after_failures", failures)
			if w.config.OnReady != nil {
				w.config.OnReady()
			}
		case err != nil && (wasReady || first):
			w.ready.Store(false)
			logger.Warn("backend unreachable", "error", err)
			if w.config.OnDown != nil {
				w.config.OnDown(err)
			}
		case err != nil:
			logger.Debug("backend still unreachable", "failures", failures+1, "error", err)
		}
		first = false

		var wait time.Duration
		if err == nil {
			failures = 0
			wait = w.config.Backoff.PollInterval
		} else {
			failures++
			wait = w.config.Backoff.Delay(failures)
		}
		if !SleepCtx(ctx, wait) {
			return
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

// SleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
