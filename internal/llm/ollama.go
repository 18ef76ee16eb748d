package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brainrot/tg-llm-rewrite/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "ollama")
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		httpClient: httpkit.NewClient(httpkit.WithLogger(logger)),
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Model   string   `json:"model"`
	Message *Message `json:"message"`
	Done    bool     `json:"done"`

	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	TotalDuration   int64 `json:"total_duration,omitempty"`
}

// Name implements Provider.
func (c *OllamaClient) Name() string { return "ollama" }

// Chat sends a non-streaming request to /api/chat.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var resp ollamaChatResponse
	err := jsonCall{
		provider: c.Name(),
		client:   c.httpClient,
		logger:   c.logger,
		method:   http.MethodPost,
		url:      c.baseURL + "/api/chat",
		body: ollamaChatRequest{
			Model:    req.Model,
			Messages: req.messages(),
			Stream:   false,
		},
	}.do(ctx, &resp)
	if err != nil {
		return "", err
	}
	if resp.Message == nil {
		return "", newError(KindEmpty, "ollama response missing assistant message")
	}

	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.PromptEvalCount,
		"output_tokens", resp.EvalCount,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", resp.Message.Content)
	return resp.Message.Content, nil
}

// Ping lists local models via /api/tags.
func (c *OllamaClient) Ping(ctx context.Context, _ string) error {
	return jsonCall{
		provider: c.Name(),
		client:   c.httpClient,
		logger:   c.logger,
		method:   http.MethodGet,
		url:      c.baseURL + "/api/tags",
	}.do(ctx, nil)
}
