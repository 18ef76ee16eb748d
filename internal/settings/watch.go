package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
)

// DefaultSettleDelay is how long the watcher waits after the last
// filesystem event before re-reading the file. Editors often write a
// file in several steps.
const DefaultSettleDelay = 50 * time.Millisecond

// WatcherConfig configures a [Watcher].
type WatcherConfig struct {
	// Path is the config file to watch.
	Path string
	// Baseline is the config the process started with. Fields that
	// cannot change at runtime are compared against it.
	Baseline *config.Config
	Store    *Store
	Bus      *events.Bus
	Logger   *slog.Logger
	// SettleDelay defaults to DefaultSettleDelay.
	SettleDelay time.Duration
}

// Watcher reloads the config file when it changes and installs the
// resulting snapshot. Invalid files are logged and ignored; the
// previous snapshot stays in effect.
type Watcher struct {
	path     string
	baseline *config.Config
	store    *Store
	bus      *events.Bus
	logger   *slog.Logger
	settle   time.Duration
}

// NewWatcher creates a watcher. Call Run to start it.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		abs = cfg.Path
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		baseline: cfg.Baseline,
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With("component", "config-watcher"),
		settle:   cfg.SettleDelay,
	}
}

// Run watches the config file's directory until ctx is cancelled. The
// directory is watched rather than the file so that atomic
// rename-into-place saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching config for changes", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("config file event", "op", ev.Op.String())
			timer.Reset(w.settle)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-timer.C:
			w.Reload()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return filepath.Clean(name) == w.path
}

// Reload re-reads the config file and installs the new snapshot if it
// is valid and differs from the current one. It reports whether a new
// snapshot was installed.
func (w *Watcher) Reload() bool {
	cfg, err := config.Load(w.path, config.ModeRewrite)
	if err != nil {
		w.reject(err)
		return false
	}
	next, err := FromConfig(cfg)
	if err != nil {
		w.reject(err)
		return false
	}

	if w.baseline != nil {
		for _, field := range frozenChanges(w.baseline, cfg) {
			w.logger.Warn("config change requires restart; ignoring", "field", field)
		}
	}

	if next.Equal(w.store.Current()) {
		w.logger.Debug("config reloaded without rewrite changes")
		return false
	}
	if err := w.store.Install(next); err != nil {
		w.reject(err)
		return false
	}

	w.logger.Info("config reloaded", "settings", next.String())
	w.bus.Emit(events.SourceConfig, events.KindConfigReloaded, map[string]any{
		"model": next.Model(),
		"chats": next.Chats(),
	})
	return true
}

func (w *Watcher) reject(err error) {
	w.logger.Warn("config reload rejected; keeping previous settings", "error", err)
	w.bus.Emit(events.SourceConfig, events.KindConfigRejected, map[string]any{
		"error": err.Error(),
	})
}

// frozenChanges lists the fields that differ between old and new but
// are only read at startup.
func frozenChanges(old, cur *config.Config) []string {
	var changed []string
	check := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	ot, nt := old.Telegram, cur.Telegram
	check("telegram.api_id", ot.APIID != nt.APIID)
	check("telegram.api_hash", ot.APIHash != nt.APIHash)
	check("telegram.session_file", ot.SessionFile != nt.SessionFile)
	check("telegram.proxy", ot.Proxy != nt.Proxy)
	check("telegram.login", ot.Login != nt.Login)
	check("telegram.catch_up", ot.CatchUpEnabled() != nt.CatchUpEnabled())
	check("telegram.skip_historical", ot.SkipHistoricalEnabled() != nt.SkipHistoricalEnabled())

	if old.Backend != nil && cur.Backend != nil {
		check("backend.provider", old.Backend.Provider != cur.Backend.Provider)
		check("backend.url", old.Backend.URL != cur.Backend.URL)
		check("backend.timeout_seconds", old.Backend.TimeoutSeconds != cur.Backend.TimeoutSeconds)
	}

	check("mqtt", old.MQTT != cur.MQTT)
	check("log_level", old.LogLevel != cur.LogLevel)
	check("log_format", old.LogFormat != cur.LogFormat)
	return changed
}
