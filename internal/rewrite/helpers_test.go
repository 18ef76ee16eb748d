package rewrite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brainrot/tg-llm-rewrite/internal/connwatch"
	"github.com/brainrot/tg-llm-rewrite/internal/llm"
	"github.com/brainrot/tg-llm-rewrite/internal/settings"
)

const (
	chatA int64 = 100
	chatB int64 = 200
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() settings.Params {
	return settings.Params{
		SystemPrompt: "Rewrite formally.",
		Chats:        []int64{chatA, chatB},
		Model:        "test-model",
		MaxAttempts:  3,
	}
}

func testStore(t *testing.T, mutate func(*settings.Params)) *settings.Store {
	t.Helper()
	p := testParams()
	if mutate != nil {
		mutate(&p)
	}
	snap, err := settings.NewSnapshot(p)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	store, err := settings.NewStore(snap)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func fastPolicy() Policy {
	return Policy{
		Backoff: connwatch.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
		EditTimeout:      time.Second,
		MaxRateLimitWait: 50 * time.Millisecond,
		EditRetryDelay:   time.Millisecond,
		ContextTimeout:   time.Second,
	}
}

// genFunc adapts a function to Generator.
type genFunc func(ctx context.Context, req llm.Request) (string, error)

func (f genFunc) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}

// formal returns a canned rewrite per body, or a prefixed body.
func formal(rewrites map[string]string) genFunc {
	return func(_ context.Context, req llm.Request) (string, error) {
		if out, ok := rewrites[req.Body]; ok {
			return out, nil
		}
		return "Formally: " + req.Body, nil
	}
}

type editCall struct {
	ChatID int64
	MsgID  int
	Text   string
}

// fakeEditor records edits and optionally fails them.
type fakeEditor struct {
	mu    sync.Mutex
	calls []editCall
	// fail, when set, decides the error for the n-th call (0-based).
	fail func(n int, call editCall) error
	// block, when set, delays every edit until it is closed.
	block chan struct{}
	// ctxErr records the request context state at edit time.
	ctxErr []error
}

func (f *fakeEditor) Edit(ctx context.Context, chatID int64, msgID int, text string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	call := editCall{chatID, msgID, text}
	n := len(f.calls)
	f.calls = append(f.calls, call)
	f.ctxErr = append(f.ctxErr, ctx.Err())
	if f.fail != nil {
		return f.fail(n, call)
	}
	return nil
}

func (f *fakeEditor) Calls() []editCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]editCall(nil), f.calls...)
}

func newTestCoordinator(t *testing.T, store *settings.Store, gen Generator, ed Editor) *Coordinator {
	t.Helper()
	c := NewCoordinator(CoordinatorConfig{
		Settings:  store,
		Generator: gen,
		Editor:    ed,
		Policy:    fastPolicy(),
		Logger:    quietLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return c
}

func outgoing(chatID int64, msgID int, text string) Event {
	return Event{
		Kind:       EventNewMessage,
		ChatID:     chatID,
		MessageID:  msgID,
		Outgoing:   true,
		Text:       text,
		HasText:    true,
		SenderName: "Me",
		Date:       time.Now(),
	}
}

func taskFor(chatID int64, msgID int, text string) *Task {
	return newTask(outgoing(chatID, msgID, text))
}

func waitOutcome(t *testing.T, h *Handle) Outcome {
	t.Helper()
	select {
	case <-h.Done():
		return h.Wait()
	case <-time.After(2 * time.Second):
		t.Fatalf("task %d did not finish (state %v)", h.Task().MessageID, h.Task().State())
		return Outcome{}
	}
}

func waitState(t *testing.T, task *Task, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task state = %v, want %v", task.State(), want)
}

func unavailable(msg string) error {
	return &llm.GenerationError{Kind: llm.KindUnavailable, Err: errors.New(msg)}
}

func rejected(msg string) error {
	return &llm.GenerationError{Kind: llm.KindRejected, Err: errors.New(msg)}
}
