package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brainrot/tg-llm-rewrite/internal/buildinfo"
	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/connwatch"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
	"github.com/brainrot/tg-llm-rewrite/internal/llm"
	"github.com/brainrot/tg-llm-rewrite/internal/mqtt"
	"github.com/brainrot/tg-llm-rewrite/internal/rewrite"
	"github.com/brainrot/tg-llm-rewrite/internal/session"
	"github.com/brainrot/tg-llm-rewrite/internal/settings"
	"github.com/brainrot/tg-llm-rewrite/internal/telegram"
)

// runRewrite is the long-running mode: it logs in, streams updates
// into the engine and edits outgoing messages until interrupted.
func runRewrite(ctx context.Context, stderr io.Writer, opts *rootOptions) error {
	cfg, cfgPath, err := loadConfig(opts.configPath, config.ModeRewrite)
	if err != nil {
		return err
	}
	logger, level, err := setupLogger(stderr, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting brainrot", "config", cfgPath, "provider", cfg.Backend.Provider)

	snap, err := settings.FromConfig(cfg)
	if err != nil {
		return err
	}
	store, err := settings.NewStore(snap)
	if err != nil {
		return err
	}

	sess, err := session.Open(cfg.Telegram.SessionFile)
	if err != nil {
		return err
	}
	defer sess.Close()

	var provider llm.Provider
	if text := rewriteOverride(opts.override, os.Getenv); text != "" {
		logger.Warn("rewrite override active, the model will not be called")
		provider = llm.StaticProvider{Text: text}
	} else {
		provider, err = llm.NewProvider(*cfg.Backend, logger)
		if err != nil {
			return err
		}
	}
	generator := llm.NewAdapter(provider, cfg.Backend.Timeout(), logger)

	catchUp := cfg.Telegram.CatchUpEnabled() && !envSet(os.LookupEnv, envDisableCatchUp)
	skipHistorical := cfg.Telegram.SkipHistoricalEnabled() && !envSet(os.LookupEnv, envDisableHistoricalSkip)

	bus := events.New()
	tgc, err := telegram.New(telegram.Config{
		APIID:    cfg.Telegram.APIID,
		APIHash:  cfg.Telegram.APIHash,
		Session:  sess,
		Phone:    cfg.Telegram.Phone,
		Login:    cfg.Telegram.Login,
		Proxy:    cfg.Telegram.Proxy,
		CatchUp:  catchUp,
		Bus:      bus,
		Logger:   logger,
		LogLevel: level,
		LogJSON:  cfg.LogFormat == "json",
		LogOut:   stderr,
	})
	if err != nil {
		return err
	}

	contexts := rewrite.NewContextCache(tgc, snap.ContextDepth(), logger)
	coord := rewrite.NewCoordinator(rewrite.CoordinatorConfig{
		Settings:  store,
		Generator: generator,
		Editor:    tgc,
		Context:   contexts,
		Policy:    rewrite.DefaultPolicy(),
		Bus:       bus,
		Logger:    logger,
	})
	var skipBefore time.Time
	if skipHistorical {
		skipBefore = buildinfo.StartTime()
	}
	engine := rewrite.NewEngine(rewrite.EngineConfig{
		Settings:    store,
		Coordinator: coord,
		Contexts:    contexts,
		SkipBefore:  skipBefore,
		Bus:         bus,
		Logger:      logger,
	})
	watcher := settings.NewWatcher(settings.WatcherConfig{
		Path:     cfgPath,
		Baseline: cfg,
		Store:    store,
		Bus:      bus,
		Logger:   logger,
	})

	var pub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(ctx, sess)
		if err != nil {
			return err
		}
		pub = mqtt.New(cfg.MQTT, instanceID, bus, watcher, logger.With("component", "mqtt"))
		pub.SetModel(snap.Model())
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// The Telegram connection must outlive the engine so that edits
	// already in flight at shutdown can complete. It is cancelled once
	// the engine has drained.
	tgCtx, tgCancel := context.WithCancel(context.WithoutCancel(gctx))
	defer tgCancel()
	stopTelegram := context.AfterFunc(gctx, func() {
		// Login prompts and reconnect loops have no edits to protect.
		if tgc.Self() == nil {
			tgCancel()
		}
	})
	defer stopTelegram()

	g.Go(func() error {
		err := tgc.Run(tgCtx, func(ctx context.Context) error {
			return tgc.Stream(ctx, func() {
				logger.Info("watching chats", "chats", store.Current().Chats())
			})
		})
		if tgCtx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("telegram connection closed")
		}
		return err
	})

	g.Go(func() error {
		defer tgCancel()
		return engine.Run(gctx, tgc.Events())
	})

	g.Go(func() error {
		return ignoreCanceled(watcher.Run(gctx))
	})

	g.Go(func() error {
		w := connwatch.Watch(gctx, connwatch.WatcherConfig{
			Name: provider.Name(),
			Probe: func(ctx context.Context) error {
				return provider.Ping(ctx, store.Current().Credential())
			},
			OnReady: func() {
				bus.Emit(events.SourceBackend, events.KindBackendUp, map[string]any{
					"provider": provider.Name(),
				})
			},
			OnDown: func(err error) {
				bus.Emit(events.SourceBackend, events.KindBackendDown, map[string]any{
					"provider": provider.Name(),
					"error":    err.Error(),
				})
			},
			Logger: logger,
		})
		<-w.Done()
		return nil
	})

	if pub != nil {
		g.Go(func() error {
			return ignoreCanceled(pub.Start(gctx))
		})
	}

	err = ignoreCanceled(g.Wait())
	logger.Info("brainrot stopped")
	return err
}
