package rewrite

import (
	"context"
	"log/slog"
	"time"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
	"github.com/brainrot/tg-llm-rewrite/internal/settings"
)

// DefaultDrainTimeout bounds how long Run waits for in-flight edits
// after its context ends.
const DefaultDrainTimeout = 15 * time.Second

// EngineConfig wires an Engine.
type EngineConfig struct {
	Settings    *settings.Store
	Coordinator *Coordinator
	// Contexts is optional.
	Contexts *ContextCache
	// SkipBefore drops new messages dated before it, so a catch-up
	// replay after a restart does not rewrite old history. Zero
	// disables the check.
	SkipBefore   time.Time
	DrainTimeout time.Duration
	Bus          *events.Bus
	Logger       *slog.Logger
}

// Engine routes inbound chat events to the filter, the context cache
// and the coordinator.
type Engine struct {
	cfg    EngineConfig
	filter Filter
	logger *slog.Logger

	lastSnap *settings.Snapshot
}

// NewEngine builds an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Engine{
		cfg:    cfg,
		filter: Filter{Ledger: cfg.Coordinator.Ledger()},
		logger: cfg.Logger,
	}
}

// Run consumes events until ctx ends, the channel closes or a fatal
// error is raised, then drains the coordinator. It returns the fatal
// error, if any.
func (e *Engine) Run(ctx context.Context, in <-chan Event) error {
	var fatal error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-e.cfg.Coordinator.Fatal():
			fatal = err
			break loop
		case ev, ok := <-in:
			if !ok {
				break loop
			}
			e.Handle(ev)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancel()
	if err := e.cfg.Coordinator.Shutdown(drainCtx); err != nil {
		e.logger.Warn("rewrite tasks still running at exit", "error", err)
	}
	return fatal
}

// Handle processes one event and returns the handle of the task it
// started, or nil.
func (e *Engine) Handle(ev Event) *Handle {
	snap := e.cfg.Settings.Current()
	e.syncSettings(snap)

	switch ev.Kind {
	case EventDeleted:
		e.cfg.Coordinator.MarkDeleted(ev.ChatID, []int{ev.MessageID})
		if e.cfg.Contexts != nil {
			e.cfg.Contexts.Remove(ev.ChatID, []int{ev.MessageID})
		}
		return nil

	case EventEdited:
		if e.cfg.Coordinator.Ledger().Produced(ev.ChatID, ev.MessageID, ev.Text) {
			e.logger.Log(context.Background(), config.LevelTrace, "own edit echoed",
				"chat_id", ev.ChatID, "message_id", ev.MessageID)
			return nil
		}
		e.cfg.Coordinator.MarkEdited(ev.ChatID, ev.MessageID, ev.Text)
		if e.cfg.Contexts != nil {
			e.cfg.Contexts.Update(ev.ChatID, ev.MessageID, ev.Text)
		}
		return nil
	}

	if e.cfg.Contexts != nil && snap.Monitors(ev.ChatID) && ev.HasText {
		e.cfg.Contexts.Observe(ev)
	}

	if !e.cfg.SkipBefore.IsZero() && !ev.Date.IsZero() && ev.Date.Before(e.cfg.SkipBefore) {
		if ev.Outgoing && snap.Monitors(ev.ChatID) {
			e.ignored(ev, "historical")
		}
		return nil
	}

	t, verdict := e.filter.Accept(ev, snap)
	if t == nil {
		if verdict != RejectNotOutgoing && verdict != RejectNotMonitored {
			e.ignored(ev, verdict.String())
		}
		return nil
	}

	e.logger.Info("rewrite task accepted", "task", t.ID, "chat_id", t.ChatID, "message_id", t.MessageID)
	e.cfg.Bus.Emit(events.SourceRewrite, events.KindMonitoredUpdate, map[string]any{
		"chat_id": t.ChatID, "message_id": t.MessageID, "task_id": t.ID,
	})
	return e.cfg.Coordinator.Submit(t)
}

func (e *Engine) ignored(ev Event, reason string) {
	e.logger.Debug("update ignored", "chat_id", ev.ChatID, "message_id", ev.MessageID, "reason", reason)
	e.cfg.Bus.Emit(events.SourceRewrite, events.KindUpdateIgnored, map[string]any{
		"chat_id": ev.ChatID, "message_id": ev.MessageID, "reason": reason,
	})
}

// syncSettings adjusts the context cache after a settings reload.
func (e *Engine) syncSettings(snap *settings.Snapshot) {
	if snap == e.lastSnap {
		return
	}
	e.lastSnap = snap
	if e.cfg.Contexts == nil {
		return
	}
	e.cfg.Contexts.SetLimit(snap.ContextDepth())
	e.cfg.Contexts.Retain(snap.Monitors)
}
