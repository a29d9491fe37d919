// Package llm is a text completion client for Ollama-compatible servers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "mistral"

// Client calls POST {baseURL}/api/generate without streaming.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a client for the server at baseURL. The request deadline
// comes from the caller's context.
func NewClient(baseURL, model string, logger *slog.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Complete returns the model's answer to prompt. A context deadline is
// reported as domain.ErrCompletionTimeout.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if timedOut(ctx, err) {
			return "", fmt.Errorf("%w after %s", domain.ErrCompletionTimeout, time.Since(start).Round(time.Millisecond))
		}
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if timedOut(ctx, err) {
			return "", domain.ErrCompletionTimeout
		}
		return "", fmt.Errorf("read completion: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("completion: status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return "", fmt.Errorf("completion: status %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("completion: status %d", resp.StatusCode)
	}

	c.logger.Debug("completion done", "model", c.model, "duration", time.Since(start))
	return strings.TrimSpace(out.Response), nil
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
