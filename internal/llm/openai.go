package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brainrot/tg-llm-rewrite/internal/httpkit"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// Many self-hosted servers (vLLM, llama.cpp, LM Studio) speak the same
// protocol, so the base URL is configurable.
type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(baseURL string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "openai")
	return &OpenAIClient{
		baseURL:    strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1"),
		logger:     logger,
		httpClient: httpkit.NewClient(httpkit.WithLogger(logger)),
	}
}

type openaiChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Name implements Provider.
func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) headers(credential string) map[string]string {
	if credential == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + credential}
}

// Chat sends a request to /v1/chat/completions.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var resp openaiChatResponse
	err := jsonCall{
		provider: c.Name(),
		client:   c.httpClient,
		logger:   c.logger,
		method:   http.MethodPost,
		url:      c.baseURL + "/v1/chat/completions",
		headers:  c.headers(req.Credential),
		body: openaiChatRequest{
			Model:    req.Model,
			Messages: req.messages(),
		},
	}.do(ctx, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", newError(KindEmpty, "openai response has no choices")
	}

	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	content := resp.Choices[0].Message.Content
	c.logger.Log(ctx, LevelTrace, "response content", "content", content)
	return content, nil
}

// Ping lists models, which also verifies the credential.
func (c *OpenAIClient) Ping(ctx context.Context, credential string) error {
	return jsonCall{
		provider: c.Name(),
		client:   c.httpClient,
		logger:   c.logger,
		method:   http.MethodGet,
		url:      c.baseURL + "/v1/models",
		headers:  c.headers(credential),
	}.do(ctx, nil)
}
