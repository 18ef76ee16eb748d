package llm

import (
	"fmt"
	"log/slog"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
)

// NewProvider builds the provider named in cfg. The provider and its
// base URL are fixed for the life of the process.
func NewProvider(cfg config.BackendConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOllama, "":
		return NewOllamaClient(cfg.URL, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.URL, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg.URL, logger), nil
	case config.ProviderGemini:
		return NewGeminiClient(logger), nil
	}
	return nil, fmt.Errorf("unsupported backend provider %q", cfg.Provider)
}
