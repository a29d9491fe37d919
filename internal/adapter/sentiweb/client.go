// Package sentiweb reads the Réseau Sentinelles regional incidence datasets.
package sentiweb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

const (
	DefaultBaseURL = "https://www.sentiweb.fr/api/v1/datasets/rest"

	endpointVersion = "version"
	endpointDataset = "dataset"

	maxBodyBytes = 64 << 20
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Dataset         string
	FallbackDataset string
	Timeout         time.Duration
	MaxRetries      uint64
	// InitialInterval is the first retry delay; it doubles per attempt.
	InitialInterval time.Duration
}

// Client fetches the version token and the regional incidence payload,
// retrying server errors with exponential backoff. HTTP 429 is never retried
// and surfaces as domain.ErrRateLimited.
type Client struct {
	baseURL         string
	dataset         string
	fallbackDataset string
	maxRetries      uint64
	initialInterval time.Duration
	httpClient      *http.Client
	metrics         *observability.Metrics
	logger          *slog.Logger
}

// NewClient creates a Sentiweb client rooted at baseURL.
func NewClient(baseURL string, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Dataset == "" {
		opts.Dataset = "inc-3-RDD"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 2 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		dataset:         opts.Dataset,
		fallbackDataset: opts.FallbackDataset,
		maxRetries:      opts.MaxRetries,
		initialInterval: opts.InitialInterval,
		httpClient:      &http.Client{Timeout: opts.Timeout},
		metrics:         metrics,
		logger:          logger,
	}
}

// Version returns the opaque dataset version token.
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.get(ctx, endpointVersion, c.baseURL+"/version")
	if err != nil {
		return "", err
	}
	return parseVersion(body), nil
}

// Dataset returns the rows of the primary dataset, or of the fallback
// dataset when the primary fails or is empty. Rate limiting on either is
// returned as is.
func (c *Client) Dataset(ctx context.Context) ([]domain.RawRecord, error) {
	rows, err := c.fetchDataset(ctx, c.dataset)
	if errors.Is(err, domain.ErrRateLimited) {
		return nil, err
	}
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if c.fallbackDataset == "" || c.fallbackDataset == c.dataset {
		return rows, err
	}

	c.logger.Warn("primary dataset unusable, trying fallback",
		"dataset", c.dataset, "fallback", c.fallbackDataset, "rows", len(rows), "error", err)
	fallbackRows, fallbackErr := c.fetchDataset(ctx, c.fallbackDataset)
	if fallbackErr != nil {
		if err != nil && !errors.Is(fallbackErr, domain.ErrRateLimited) {
			return nil, errors.Join(err, fallbackErr)
		}
		return nil, fallbackErr
	}
	return fallbackRows, nil
}

func (c *Client) fetchDataset(ctx context.Context, id string) ([]domain.RawRecord, error) {
	q := url.Values{"id": {id}, "span": {"short"}, "$format": {"json"}}
	body, err := c.get(ctx, endpointDataset, c.baseURL+"/dataset?"+q.Encode())
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpointDataset, "malformed").Inc()
		return nil, fmt.Errorf("decode dataset %s: %w", id, err)
	}
	if len(rows) == 0 {
		c.metrics.UpstreamRequests.WithLabelValues(endpointDataset, "empty").Inc()
	}
	return rows, nil
}

// get performs a GET with retries. 429 and other 4xx responses stop
// retrying immediately.
func (c *Client) get(ctx context.Context, endpoint, fullURL string) ([]byte, error) {
	start := time.Now()
	defer func() {
		c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sentiweb %s request: %w", endpoint, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, backoff.Permanent(fmt.Errorf("sentiweb %s: %w", endpoint, domain.ErrRateLimited))
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("sentiweb %s: status %d", endpoint, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, backoff.Permanent(fmt.Errorf("sentiweb %s: status %d: %s", endpoint, resp.StatusCode, snippet))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s body: %w", endpoint, err)
		}
		return body, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	body, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrRateLimited) {
			outcome = "rate_limited"
		}
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
		return nil, err
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "success").Inc()
	return body, nil
}

// parseVersion accepts a bare token or a JSON string.
func parseVersion(body []byte) string {
	s := strings.TrimSpace(string(body))
	var quoted string
	if strings.HasPrefix(s, `"`) && json.Unmarshal([]byte(s), &quoted) == nil {
		return strings.TrimSpace(quoted)
	}
	return s
}

// decodeRows accepts a bare array or an object wrapping it under "data".
// Numbers are kept as json.Number so week codes survive intact.
func decodeRows(body []byte) ([]domain.RawRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '{' {
		var wrapped struct {
			Data []map[string]any `json:"data"`
		}
		if err := dec.Decode(&wrapped); err != nil {
			return nil, err
		}
		return toRecords(wrapped.Data), nil
	}

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func toRecords(rows []map[string]any) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RawRecord(r))
	}
	return out
}
