package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcProvider adapts a function to Provider.
type funcProvider struct {
	chat func(ctx context.Context, req ChatRequest) (string, error)
}

func (f funcProvider) Name() string { return "fake" }

func (f funcProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return f.chat(ctx, req)
}

func (f funcProvider) Ping(context.Context, string) error { return nil }

func TestAdapter_Success(t *testing.T) {
	var got ChatRequest
	p := funcProvider{chat: func(_ context.Context, req ChatRequest) (string, error) {
		got = req
		return "  Greetings and salutations.\n", nil
	}}
	a := NewAdapter(p, time.Second, quietLogger())

	text, err := a.Generate(context.Background(), Request{
		SystemPrompt: "be formal",
		Body:         "hello",
		Context:      []string{"Alice: hi", "Me: yo"},
		Model:        "llama3",
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Greetings and salutations." {
		t.Errorf("text = %q, want trimmed model output", text)
	}
	if got.Model != "llama3" || got.Credential != "k" || got.User != "hello" {
		t.Errorf("provider got %+v", got)
	}
	if !strings.HasPrefix(got.System, "be formal") || !strings.Contains(got.System, "Alice: hi\nMe: yo") {
		t.Errorf("system prompt = %q, want prompt followed by context", got.System)
	}
}

func TestAdapter_TimeoutWithStuckProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := funcProvider{chat: func(context.Context, ChatRequest) (string, error) {
		// Ignores its context entirely.
		<-release
		return "late", nil
	}}
	a := NewAdapter(p, 20*time.Millisecond, quietLogger())

	start := time.Now()
	_, err := a.Generate(context.Background(), Request{Body: "hello"})
	if KindOf(err) != KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Generate took %v, should return at the timeout", elapsed)
	}
}

func TestAdapter_ProviderDeadlineIsTimeout(t *testing.T) {
	p := funcProvider{chat: func(ctx context.Context, _ ChatRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	a := NewAdapter(p, 10*time.Millisecond, quietLogger())
	_, err := a.Generate(context.Background(), Request{Body: "hello"})
	if KindOf(err) != KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestAdapter_ParentCancelIsNotClassified(t *testing.T) {
	p := funcProvider{chat: func(ctx context.Context, _ ChatRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	a := NewAdapter(p, time.Minute, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := a.Generate(ctx, Request{Body: "hello"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if KindOf(err) != 0 {
		t.Errorf("cancellation should not be classified, got %v", KindOf(err))
	}
}

func TestAdapter_Classification(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		want ErrorKind
	}{
		{"empty", "   ", nil, KindEmpty},
		{"rejected passthrough", "", newError(KindRejected, "401"), KindRejected},
		{"unavailable passthrough", "", newError(KindUnavailable, "503"), KindUnavailable},
		{"unclassified becomes unavailable", "", errors.New("weird"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := funcProvider{chat: func(context.Context, ChatRequest) (string, error) {
				return tt.text, tt.err
			}}
			_, err := NewAdapter(p, time.Second, quietLogger()).Generate(context.Background(), Request{Body: "x"})
			if got := KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	if got := BuildSystemPrompt(" rewrite \n", nil); got != "rewrite" {
		t.Errorf("without context = %q, want %q", got, "rewrite")
	}
	got := BuildSystemPrompt("rewrite", []string{"Bob: a", "Me: b"})
	if !strings.HasPrefix(got, "rewrite\n\n") || !strings.HasSuffix(got, "Bob: a\nMe: b") {
		t.Errorf("with context = %q", got)
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	for kind, want := range map[ErrorKind]bool{
		KindTimeout:     true,
		KindUnavailable: true,
		KindRejected:    false,
		KindEmpty:       false,
	} {
		if got := kind.Retryable(); got != want {
			t.Errorf("%v.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestStaticProvider(t *testing.T) {
	a := NewAdapter(StaticProvider{Text: "override"}, time.Second, quietLogger())
	got, err := a.Generate(context.Background(), Request{Body: "anything"})
	if err != nil || got != "override" {
		t.Errorf("Generate = %q, %v; want override", got, err)
	}
}
