package sentiweb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

const payload = `[
  {"week": 202541, "indicator": 3, "inc": 71234, "inc100": 107, "geo_insee": "11", "geo_name": "ILE-DE-FRANCE"},
  {"week": 202541, "indicator": 3, "inc": 8123, "inc100": 38, "geo_insee": "53", "geo_name": "BRETAGNE"}
]`

func testClient(baseURL string, fallback string) (*Client, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	c := NewClient(baseURL, Options{
		Dataset:         "inc-3-RDD",
		FallbackDataset: fallback,
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
	}, m, observability.DiscardLogger())
	return c, m
}

func TestClient_Dataset_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dataset", r.URL.Path)
		assert.Equal(t, "inc-3-RDD", r.URL.Query().Get("id"))
		assert.Equal(t, "short", r.URL.Query().Get("span"))
		assert.Equal(t, "json", r.URL.Query().Get("$format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, "")
	rows, err := c.Dataset(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, json.Number("202541"), rows[0]["week"])
	assert.Equal(t, "11", rows[0]["geo_insee"])
	assert.InDelta(t, 1.0, observability.CounterValue(t, m.UpstreamRequests.WithLabelValues("dataset", "success")), 0)

	rec, ok := domain.Normalizer{}.Flu(rows[0])
	require.True(t, ok)
	assert.Equal(t, "2025-W41", rec.Week)
	assert.InDelta(t, 107.0, rec.IncidencePer100k, 1e-9)
}

func TestClient_Dataset_WrappedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": ` + payload + `}`))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, "")
	rows, err := c.Dataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, "")
	rows, err := c.Dataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, "")
	_, err := c.Version(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(3), hits.Load(), "one attempt plus two retries")
	assert.InDelta(t, 1.0, observability.CounterValue(t, m.UpstreamRequests.WithLabelValues("version", "error")), 0)
}

func TestClient_RateLimitedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, "inc-3-RDD-ds2")
	_, err := c.Dataset(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load(), "no retry and no fallback on 429")
	assert.InDelta(t, 1.0, observability.CounterValue(t, m.UpstreamRequests.WithLabelValues("dataset", "rate_limited")), 0)
}

func TestClient_FallbackOnEmptyPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "inc-3-RDD" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		assert.Equal(t, "inc-3-RDD-ds2", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, "inc-3-RDD-ds2")
	rows, err := c.Dataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.InDelta(t, 1.0, observability.CounterValue(t, m.UpstreamRequests.WithLabelValues("dataset", "empty")), 0)
}

func TestClient_FallbackOnClientError(t *testing.T) {
	var primaryHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "inc-3-RDD" {
			primaryHits.Add(1)
			http.Error(w, "unknown dataset", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, "inc-3-RDD-ds2")
	rows, err := c.Dataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(1), primaryHits.Load(), "4xx is not retried")
}

func TestClient_EmptyWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, "")
	rows, err := c.Dataset(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClient_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, "")
	_, err := c.Dataset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode dataset")
}

func TestClient_Version(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain", "2025-10-14T06:00:00\n", "2025-10-14T06:00:00"},
		{"json string", `"v42"`, "v42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/version", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := testClient(srv.URL, "")
			got, err := c.Version(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := testClient(srv.URL, "")
	_, err := c.Version(ctx)
	require.Error(t, err)
}
