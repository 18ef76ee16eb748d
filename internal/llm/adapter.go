package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Request is one rewrite call. Model and Credential come from the
// settings snapshot read when the call was dispatched.
type Request struct {
	SystemPrompt string
	Body         string
	// Context holds preceding conversation lines, oldest first, already
	// rendered as "sender: text".
	Context    []string
	Model      string
	Credential string
}

// Adapter wraps a Provider with a hard per-call timeout and error
// classification. It never retries.
type Adapter struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAdapter creates an adapter. timeout must be positive.
func NewAdapter(p Provider, timeout time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{provider: p, timeout: timeout, logger: logger}
}

// Provider returns the wrapped provider.
func (a *Adapter) Provider() Provider { return a.provider }

type chatResult struct {
	text string
	err  error
}

// Generate sends req and returns the candidate text. It returns within
// the adapter timeout even if the provider ignores its context. When
// ctx itself is cancelled the context error is returned unclassified.
func (a *Adapter) Generate(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	chat := ChatRequest{
		Model:      req.Model,
		Credential: req.Credential,
		System:     BuildSystemPrompt(req.SystemPrompt, req.Context),
		User:       req.Body,
	}

	// Buffered so the provider goroutine can always finish.
	done := make(chan chatResult, 1)
	go func() {
		text, err := a.provider.Chat(callCtx, chat)
		done <- chatResult{text: text, err: err}
	}()

	var res chatResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", &GenerationError{
			Kind: KindTimeout,
			Err:  fmt.Errorf("%s: no response within %s", a.provider.Name(), a.timeout),
		}
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(res.err, context.DeadlineExceeded) && callCtx.Err() != nil {
			return "", &GenerationError{Kind: KindTimeout, Err: res.err}
		}
		if KindOf(res.err) == 0 {
			return "", classifyTransport(a.provider.Name(), res.err)
		}
		return "", res.err
	}

	text := strings.TrimSpace(res.text)
	if text == "" {
		return "", newError(KindEmpty, "%s returned no text", a.provider.Name())
	}
	return text, nil
}

// BuildSystemPrompt appends recent conversation lines to the system
// prompt so the model can match the tone of the chat.
func BuildSystemPrompt(prompt string, lines []string) string {
	prompt = strings.TrimSpace(prompt)
	if len(lines) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nRecent conversation, oldest first (for context only, do not rewrite it):\n")
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
