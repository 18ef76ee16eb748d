package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brainrot/tg-llm-rewrite/internal/httpkit"
)

const (
	anthropicAPIVersion = "2023-06-01"
	// Rewrites are roughly the size of a chat message; Telegram caps
	// messages at 4096 characters.
	anthropicMaxTokens = 2048
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(baseURL string, logger *slog.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "anthropic")
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		// Rely on ctx deadlines for timeout control.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithLogger(logger)),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Name implements Provider.
func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) headers(credential string) map[string]string {
	return map[string]string{
		"x-api-key":         credential,
		"anthropic-version": anthropicAPIVersion,
	}
}

// Chat sends a request to /v1/messages. The system prompt travels in the
// top-level system field rather than as a message.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var resp anthropicResponse
	err := jsonCall{
		provider: c.Name(),
		client:   c.httpClient,
		logger:   c.logger,
		method:   http.MethodPost,
		url:      c.baseURL + "/v1/messages",
		headers:  c.headers(req.Credential),
		body: anthropicRequest{
			Model:     req.Model,
			System:    req.System,
			Messages:  []anthropicMessage{{Role: RoleUser, Content: req.User}},
			MaxTokens: anthropicMaxTokens,
		},
	}.do(ctx, &resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", sb.String())
	return sb.String(), nil
}

// Ping lists models, which verifies the API key without spending tokens.
func (c *AnthropicClient) Ping(ctx context.Context, credential string) error {
	return jsonCall{
		provider: c.Name(),
		client:   c.httpClient,
		logger:   c.logger,
		method:   http.MethodGet,
		url:      c.baseURL + "/v1/models?limit=1",
		headers:  c.headers(credential),
	}.do(ctx, nil)
}
