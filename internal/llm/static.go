package llm

import "context"

// StaticProvider answers every request with fixed text. It backs the
// rewrite override used for smoke tests, where the edit path should be
// exercised without a model.
type StaticProvider struct {
	Text string
}

// Name implements Provider.
func (s StaticProvider) Name() string { return "static" }

// Chat returns s.Text.
func (s StaticProvider) Chat(ctx context.Context, _ ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Text, nil
}

// Ping always succeeds.
func (s StaticProvider) Ping(context.Context, string) error { return nil }
