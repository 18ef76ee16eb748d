package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brainrot/tg-llm-rewrite/internal/httpkit"
)

// jsonCall is one JSON request/response exchange with a backend.
type jsonCall struct {
	provider string
	client   *http.Client
	logger   *slog.Logger
	method   string
	url      string
	headers  map[string]string
	body     any
}

// do sends the call and decodes a 2xx response into out. Failures are
// returned as *GenerationError.
func (c jsonCall) do(ctx context.Context, out any) error {
	var reader *bytes.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", c.provider, err)
		}
		c.logger.Log(ctx, LevelTrace, "request payload", "json", string(data))
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, c.method, c.url, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, c.method, c.url, nil)
	}
	if err != nil {
		return newError(KindRejected, "create %s request: %w", c.provider, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransport(c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Debug("API error", "status", resp.StatusCode, "body", body)
		return classifyStatus(c.provider, resp.StatusCode, body)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated or garbled body from a proxy or a backend that
		// died mid-response.
		return newError(KindUnavailable, "decode %s response: %w", c.provider, err)
	}
	return nil
}
