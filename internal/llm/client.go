// Package llm talks to the text generation backends and classifies
// their failures.
//
// A [Provider] speaks one backend's wire protocol. The [Adapter] wraps a
// provider with a hard per-call timeout and the error taxonomy the
// rewrite engine retries on.
package llm

import "context"

// Provider is the interface every backend implementation satisfies.
type Provider interface {
	// Name identifies the provider in logs ("ollama", "openai", ...).
	Name() string

	// Chat sends one non-streaming chat request and returns the
	// assistant text. Errors should be *GenerationError where the
	// failure can be classified.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// Ping checks that the backend is reachable and, where the
	// protocol allows it, that credential is accepted.
	Ping(ctx context.Context, credential string) error
}
