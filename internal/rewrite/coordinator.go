package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brainrot/tg-llm-rewrite/internal/connwatch"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
	"github.com/brainrot/tg-llm-rewrite/internal/llm"
	"github.com/brainrot/tg-llm-rewrite/internal/settings"
	"github.com/brainrot/tg-llm-rewrite/internal/textutil"
)

// Generator produces rewritten text. [*llm.Adapter] satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Editor replaces a message's text on the chat service.
type Editor interface {
	Edit(ctx context.Context, chatID int64, msgID int, text string) error
}

// EditErrorKind classifies edit failures.
type EditErrorKind int

const (
	EditOther EditErrorKind = iota
	// EditNotFound means the message is gone or no longer editable.
	EditNotFound
	// EditNotModified means the message already has the requested text.
	EditNotModified
	// EditRateLimited carries a server-requested wait in RetryAfter.
	EditRateLimited
	// EditAuthInvalid means the session was revoked. Fatal.
	EditAuthInvalid
)

func (k EditErrorKind) String() string {
	switch k {
	case EditNotFound:
		return "not_found"
	case EditNotModified:
		return "not_modified"
	case EditRateLimited:
		return "rate_limited"
	case EditAuthInvalid:
		return "auth_invalid"
	}
	return "other"
}

// EditError is returned by Editor implementations.
type EditError struct {
	Kind       EditErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *EditError) Error() string {
	if e.Kind == EditRateLimited {
		return fmt.Sprintf("edit %s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("edit %s: %v", e.Kind, e.Err)
}

func (e *EditError) Unwrap() error { return e.Err }

// ErrAuthInvalid is delivered on [Coordinator.Fatal] when the chat
// session stops being authorized.
var ErrAuthInvalid = errors.New("chat session is no longer authorized")

// ErrShuttingDown is the outcome error for tasks abandoned at shutdown.
var ErrShuttingDown = errors.New("coordinator shutting down")

// Policy bounds the coordinator's waits.
type Policy struct {
	// Backoff schedules the wait between generation attempts.
	Backoff connwatch.BackoffConfig
	// EditTimeout bounds each edit request.
	EditTimeout time.Duration
	// MaxRateLimitWait is the longest server-requested wait honored
	// before an edit is given up.
	MaxRateLimitWait time.Duration
	// EditRetryDelay is the pause before retrying a generic edit failure.
	EditRetryDelay time.Duration
	// ContextTimeout bounds the history read for context.
	ContextTimeout time.Duration
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		Backoff:          connwatch.RetryBackoffConfig(),
		EditTimeout:      30 * time.Second,
		MaxRateLimitWait: 60 * time.Second,
		EditRetryDelay:   time.Second,
		ContextTimeout:   10 * time.Second,
	}
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Settings  *settings.Store
	Generator Generator
	Editor    Editor
	// Context is optional; without it tasks are generated without
	// conversation context.
	Context ContextSource
	// Ledger is optional; one is created when nil.
	Ledger *EditLedger
	Policy Policy
	Bus    *events.Bus
	Logger *slog.Logger
}

type lane struct {
	tail chan struct{}
	live int
	// deleted and edited record user activity on messages with a task
	// in flight, keyed by message id.
	deleted map[int]struct{}
	edited  map[int]string
}

// Coordinator drives tasks through their lifecycle. Tasks run
// concurrently, but edits within one chat commit in submission order:
// each task waits for every earlier task of its chat to be terminal
// before editing.
type Coordinator struct {
	settings  *settings.Store
	generator Generator
	editor    Editor
	context   ContextSource
	ledger    *EditLedger
	policy    Policy
	bus       *events.Bus
	logger    *slog.Logger

	// ctx is cancelled by Shutdown. Generation and gate waits observe
	// it; edits do not.
	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error
	wg     sync.WaitGroup

	mu     sync.Mutex
	lanes  map[int64]*lane
	seq    map[int64]uint64
	closed bool
}

// NewCoordinator builds a Coordinator ready to accept tasks.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Settings == nil || cfg.Generator == nil || cfg.Editor == nil {
		panic("rewrite: CoordinatorConfig needs Settings, Generator and Editor")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = NewEditLedger(DefaultLedgerTTL)
	}
	defaults := DefaultPolicy()
	if cfg.Policy.EditTimeout <= 0 {
		cfg.Policy.EditTimeout = defaults.EditTimeout
	}
	if cfg.Policy.MaxRateLimitWait <= 0 {
		cfg.Policy.MaxRateLimitWait = defaults.MaxRateLimitWait
	}
	if cfg.Policy.ContextTimeout <= 0 {
		cfg.Policy.ContextTimeout = defaults.ContextTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		settings:  cfg.Settings,
		generator: cfg.Generator,
		editor:    cfg.Editor,
		context:   cfg.Context,
		ledger:    cfg.Ledger,
		policy:    cfg.Policy,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		fatal:     make(chan error, 1),
		lanes:     make(map[int64]*lane),
		seq:       make(map[int64]uint64),
	}
}

// Ledger returns the coordinator's edit ledger.
func (c *Coordinator) Ledger() *EditLedger { return c.ledger }

// Fatal delivers at most one error that should stop the process.
func (c *Coordinator) Fatal() <-chan error { return c.fatal }

// Submit starts driving t. After Shutdown the task is failed at once.
func (c *Coordinator) Submit(t *Task) *Handle {
	h := newHandle(t)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.setState(StateFailed)
		h.finish(Outcome{State: StateFailed, Reason: "shutdown", Err: ErrShuttingDown})
		return h
	}
	ln := c.lanes[t.ChatID]
	if ln == nil {
		ln = &lane{deleted: make(map[int]struct{}), edited: make(map[int]string)}
		c.lanes[t.ChatID] = ln
	}
	c.seq[t.ChatID]++
	t.Seq = c.seq[t.ChatID]
	prev := ln.tail
	done := make(chan struct{})
	ln.tail = done
	ln.live++
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(t, h, prev, done)
	return h
}

// MarkDeleted records that messages were deleted. A zero chatID
// matches every lane outside channels.
func (c *Coordinator) MarkDeleted(chatID int64, msgIDs []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ln := range c.lanes {
		if chatID != 0 && id != chatID {
			continue
		}
		if chatID == 0 && IsChannelID(id) {
			continue
		}
		for _, m := range msgIDs {
			ln.deleted[m] = struct{}{}
		}
	}
}

// MarkEdited records a user edit of a message. Only chats with tasks
// in flight keep the record.
func (c *Coordinator) MarkEdited(chatID int64, msgID int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ln := c.lanes[chatID]; ln != nil {
		ln.edited[msgID] = strings.TrimSpace(text)
	}
}

// Shutdown stops accepting tasks, abandons tasks that are not editing
// and waits for the rest until ctx expires.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for rewrite tasks: %w", ctx.Err())
	}
}

func (c *Coordinator) run(t *Task, h *Handle, prev, done chan struct{}) {
	defer c.wg.Done()

	logger := c.logger.With("task", t.ID, "chat_id", t.ChatID, "message_id", t.MessageID, "seq", t.Seq)
	start := time.Now()
	out := c.process(t, prev, logger)
	t.setState(out.State)
	c.report(t, out, time.Since(start), logger)
	h.finish(out)

	// Later tasks in the chat are released only once every earlier one
	// is terminal too.
	if prev != nil {
		<-prev
	}
	close(done)
	c.release(t)
}

func (c *Coordinator) release(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln := c.lanes[t.ChatID]
	if ln == nil {
		return
	}
	ln.live--
	if ln.live == 0 {
		delete(c.lanes, t.ChatID)
	}
}

func (c *Coordinator) process(t *Task, prev chan struct{}, logger *slog.Logger) Outcome {
	// Pending: one settings snapshot governs the whole task.
	snap := c.settings.Current()
	if c.context != nil && snap.ContextDepth() > 0 {
		ctx, cancel := context.WithTimeout(c.ctx, c.policy.ContextTimeout)
		t.Context = c.context.Context(ctx, t, snap.ContextDepth())
		cancel()
	}
	if c.ctx.Err() != nil {
		return abandoned(0)
	}

	t.setState(StateGenerating)
	req := llm.Request{
		SystemPrompt: snap.SystemPrompt(),
		Body:         t.Original,
		Context:      t.Context,
		Model:        snap.Model(),
		Credential:   snap.Credential(),
	}
	var generated string
	attempts := 0
	for {
		attempts++
		t.attempts.Store(int32(attempts))
		text, err := c.generator.Generate(c.ctx, req)
		if err == nil {
			generated = text
			break
		}
		if c.ctx.Err() != nil {
			return abandoned(attempts)
		}
		kind := llm.KindOf(err)
		if !kind.Retryable() || attempts >= snap.MaxAttempts() {
			logger.Warn("rewrite generation failed", "attempts", attempts, "kind", kind, "error", err)
			return Outcome{State: StateFailed, Attempts: attempts, Reason: "generation_" + kind.String(), Err: err}
		}
		delay := c.policy.Backoff.Delay(attempts)
		logger.Info("rewrite generation retrying", "attempt", attempts, "kind", kind, "delay", delay, "error", err)
		if !connwatch.SleepCtx(c.ctx, delay) {
			return abandoned(attempts)
		}
	}

	t.setState(StateDeciding)
	candidate := generated
	if snap.StripMarkdown() {
		candidate = textutil.StripMarkdown(candidate)
	}
	candidate = strings.TrimSpace(textutil.TruncateUTF16(strings.TrimSpace(candidate), textutil.MaxMessageUnits))
	if candidate == "" {
		return Outcome{State: StateSkipped, Attempts: attempts, Reason: "empty"}
	}
	if textutil.Equivalent(candidate, t.Original) {
		return Outcome{State: StateSkipped, Attempts: attempts, Reason: "unchanged"}
	}

	waited, ok := c.awaitTurn(prev)
	if !ok {
		return abandoned(attempts)
	}
	if reason := c.superseded(t); reason != "" {
		return Outcome{State: StateSuperseded, Attempts: attempts, Reason: reason}
	}
	if c.ledger.Produced(t.ChatID, t.MessageID, candidate) {
		return Outcome{State: StateSkipped, Attempts: attempts, Reason: "already_applied"}
	}

	t.setState(StateEditing)
	return c.edit(t, candidate, attempts, waited, logger)
}

// awaitTurn blocks until every earlier task in the chat is terminal.
// It reports whether it had to wait at all.
func (c *Coordinator) awaitTurn(prev chan struct{}) (waited, ok bool) {
	if prev == nil {
		return false, true
	}
	select {
	case <-prev:
		return false, true
	default:
	}
	select {
	case <-prev:
		return true, true
	case <-c.ctx.Done():
		return true, false
	}
}

func (c *Coordinator) superseded(t *Task) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln := c.lanes[t.ChatID]
	if ln == nil {
		return ""
	}
	if _, ok := ln.deleted[t.MessageID]; ok {
		return "deleted"
	}
	if text, ok := ln.edited[t.MessageID]; ok && text != t.Original {
		return "edited_by_user"
	}
	return ""
}

func (c *Coordinator) edit(t *Task, text string, attempts int, waited bool, logger *slog.Logger) Outcome {
	// Record before the request so the echoed edit update is recognized
	// even if it arrives before the response.
	c.ledger.Record(t.ChatID, t.MessageID, text)

	retried := false
	for {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.policy.EditTimeout)
		err := c.editor.Edit(ctx, t.ChatID, t.MessageID, text)
		cancel()
		if err == nil {
			c.bus.Emit(events.SourceRewrite, events.KindMessageEdited, map[string]any{
				"chat_id": t.ChatID, "message_id": t.MessageID, "task_id": t.ID,
			})
			return Outcome{State: StateDone, Attempts: attempts, Text: text}
		}

		ee := &EditError{Kind: EditOther, Err: err}
		errors.As(err, &ee)

		switch ee.Kind {
		case EditNotModified:
			return Outcome{State: StateSkipped, Attempts: attempts, Reason: "not_modified"}
		case EditNotFound:
			c.ledger.Forget(t.ChatID, t.MessageID)
			if waited {
				return Outcome{State: StateSuperseded, Attempts: attempts, Reason: "gone"}
			}
			return Outcome{State: StateSkipped, Attempts: attempts, Reason: "not_found"}
		case EditAuthInvalid:
			c.ledger.Forget(t.ChatID, t.MessageID)
			c.raiseFatal(fmt.Errorf("%w: %v", ErrAuthInvalid, err))
			return Outcome{State: StateFailed, Attempts: attempts, Reason: "auth_invalid", Err: err}
		}

		if retried {
			c.ledger.Forget(t.ChatID, t.MessageID)
			logger.Warn("rewrite edit failed", "kind", ee.Kind, "error", err)
			return Outcome{State: StateFailed, Attempts: attempts, Reason: "edit_" + ee.Kind.String(), Err: err}
		}
		retried = true

		wait := c.policy.EditRetryDelay
		if ee.Kind == EditRateLimited {
			if ee.RetryAfter > c.policy.MaxRateLimitWait {
				c.ledger.Forget(t.ChatID, t.MessageID)
				logger.Warn("rewrite edit rate limited beyond limit", "retry_after", ee.RetryAfter)
				return Outcome{State: StateFailed, Attempts: attempts, Reason: "edit_rate_limited", Err: err}
			}
			wait = ee.RetryAfter
		}
		logger.Info("rewrite edit retrying", "kind", ee.Kind, "delay", wait, "error", err)
		// Shutdown does not cut an edit short; wait is capped by
		// MaxRateLimitWait.
		connwatch.SleepCtx(context.WithoutCancel(c.ctx), wait)
	}
}

func (c *Coordinator) raiseFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *Coordinator) report(t *Task, out Outcome, elapsed time.Duration, logger *slog.Logger) {
	attrs := []any{
		"state", out.State,
		"attempts", out.Attempts,
		"elapsed", elapsed.Round(time.Millisecond),
	}
	if out.Reason != "" {
		attrs = append(attrs, "reason", out.Reason)
	}
	switch out.State {
	case StateDone:
		logger.Info("message rewritten", attrs...)
	case StateFailed:
		logger.Warn("rewrite task failed", append(attrs, "error", out.Err)...)
	default:
		logger.Debug("rewrite task finished", attrs...)
	}

	data := map[string]any{
		"chat_id":    t.ChatID,
		"message_id": t.MessageID,
		"task_id":    t.ID,
		"state":      out.State.String(),
		"attempts":   out.Attempts,
	}
	if out.Reason != "" {
		data["reason"] = out.Reason
	}
	if out.Err != nil {
		data["error"] = out.Err.Error()
	}
	c.bus.Emit(events.SourceRewrite, events.KindTaskOutcome, data)
}

func abandoned(attempts int) Outcome {
	return Outcome{State: StateFailed, Attempts: attempts, Reason: "shutdown", Err: ErrShuttingDown}
}
