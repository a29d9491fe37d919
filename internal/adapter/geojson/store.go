// Package geojson builds department centroids from a public boundary
// dataset and caches them on disk so the dataset is downloaded once.
package geojson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

const DefaultURL = "https://france-geojson.gregoiredavid.fr/repo/departements.geojson"

// Centroids maps a padded department code to its centroid.
type Centroids = map[string]domain.Centroid

// Store resolves centroids from memory, then the disk cache, then the
// remote dataset. Only successful loads are memoized.
type Store struct {
	url        string
	path       string
	httpClient *http.Client
	maxRetries uint64
	retryDelay time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu     sync.Mutex
	loaded Centroids
}

// NewStore creates a centroid store caching to path.
func NewStore(url, path string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Store {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Store{
		url:        url,
		path:       path,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
		retryDelay: time.Second,
		metrics:    metrics,
		logger:     logger,
	}
}

// Centroids returns a copy of the department centroids.
func (s *Store) Centroids(ctx context.Context) (Centroids, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded != nil {
		s.metrics.CentroidCache.WithLabelValues("memory").Inc()
		return clone(s.loaded), nil
	}

	if c, err := s.readDisk(); err == nil {
		s.metrics.CentroidCache.WithLabelValues("disk").Inc()
		s.loaded = c
		return clone(c), nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("centroid cache unreadable, rebuilding", "path", s.path, "error", err)
	}

	c, err := s.build(ctx)
	if err != nil {
		s.metrics.CentroidCache.WithLabelValues("error").Inc()
		return Centroids{}, err
	}
	s.metrics.CentroidCache.WithLabelValues("fetched").Inc()
	if err := s.writeDisk(c); err != nil {
		s.logger.Warn("write centroid cache failed", "path", s.path, "error", err)
	}
	s.loaded = c
	return clone(c), nil
}

func (s *Store) readDisk() (Centroids, error) {
	if s.path == "" {
		return nil, fs.ErrNotExist
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var c Centroids
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("%s holds no centroids", s.path)
	}
	return c, nil
}

func (s *Store) writeDisk(c Centroids) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) build(ctx context.Context) (Centroids, error) {
	start := time.Now()
	body, err := s.download(ctx)
	s.metrics.UpstreamDuration.WithLabelValues("geojson").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.UpstreamRequests.WithLabelValues("geojson", "error").Inc()
		return nil, err
	}
	s.metrics.UpstreamRequests.WithLabelValues("geojson", "success").Inc()

	c, err := Parse(body)
	if err != nil {
		return nil, err
	}
	if len(c) == 0 {
		return nil, errors.New("boundary dataset has no usable features")
	}
	s.logger.Info("department centroids built", "departments", len(c))
	return c, nil
}

func (s *Store) download(ctx context.Context) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("geojson request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("geojson: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("geojson: status %d", resp.StatusCode))
		}
		return io.ReadAll(resp.Body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryDelay
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
}

type featureCollection struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
		Geometry   *struct {
			Coordinates any `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Parse computes the bounding-box centroid of every feature in a GeoJSON
// FeatureCollection. Features without a code or a finite position are skipped.
func Parse(body []byte) (Centroids, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fc featureCollection
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	out := make(Centroids, len(fc.Features))
	for _, f := range fc.Features {
		code := domain.PadDepartmentCode(property(f.Properties, "code", "code_insee", "code_dep"))
		if code == "" || f.Geometry == nil {
			continue
		}
		p, ok := domain.BBoxCentroid(f.Geometry.Coordinates)
		if !ok {
			continue
		}
		out[code] = domain.Centroid{
			Name: property(f.Properties, "nom", "nom_dep"),
			Lat:  p.Lat,
			Lng:  p.Lng,
		}
	}
	return out, nil
}

func property(props map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func clone(c Centroids) Centroids {
	out := make(Centroids, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
