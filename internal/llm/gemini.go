package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"github.com/brainrot/tg-llm-rewrite/internal/httpkit"
)

// GeminiClient calls the Gemini API through the genai SDK. SDK clients
// are bound to an API key, so one is kept per credential; a reload that
// rotates the key gets a fresh client.
type GeminiClient struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiClient creates a Gemini provider.
func NewGeminiClient(logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "gemini")
	return &GeminiClient{
		httpClient: httpkit.NewClient(httpkit.WithLogger(logger)),
		logger:     logger,
		clients:    make(map[string]*genai.Client),
	}
}

// Name implements Provider.
func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) client(ctx context.Context, credential string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[credential]; ok {
		return cl, nil
	}
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return nil, newError(KindRejected, "create gemini client: %w", err)
	}
	// Only the current key is worth keeping.
	clear(c.clients)
	c.clients[credential] = cl
	return cl, nil
}

// Chat generates content with the system prompt as the system
// instruction.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	cl, err := c.client(ctx, req.Credential)
	if err != nil {
		return "", err
	}

	var cfg *genai.GenerateContentConfig
	if req.System != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		}
	}
	contents := []*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)}

	resp, err := cl.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", c.classify(err)
	}

	text := resp.Text()
	c.logger.Log(ctx, LevelTrace, "response content", "content", text)
	return text, nil
}

// Ping lists one model to check the key and the endpoint.
func (c *GeminiClient) Ping(ctx context.Context, credential string) error {
	cl, err := c.client(ctx, credential)
	if err != nil {
		return err
	}
	if _, err := cl.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return c.classify(err)
	}
	return nil
}

func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(c.Name(), apiErr.Code, fmt.Sprintf("%s: %s", apiErr.Status, apiErr.Message))
	}
	return classifyTransport(c.Name(), err)
}
