package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/flu-risk-etl/internal/adapter/http"
	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
	"github.com/couchcryptid/flu-risk-etl/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type staticSnapshots struct {
	snap domain.RiskSnapshot
}

func (s staticSnapshots) Snapshot(context.Context) domain.RiskSnapshot { return s.snap }

type mockChat struct {
	answer   string
	err      error
	question string
}

func (m *mockChat) Ask(_ context.Context, q string) (string, error) {
	m.question = q
	return m.answer, m.err
}

func testSnapshot() domain.RiskSnapshot {
	depts := []domain.Department{
		{Code: "01", Name: "Ain", Lat: 46.06, Lng: 5.45, RiskScore: 0.3, RiskLevel: domain.RiskLow},
		{Code: "75", Name: "Paris", Lat: 48.85, Lng: 2.35, RiskScore: 0.8, RiskLevel: domain.RiskHigh},
	}
	return domain.RiskSnapshot{
		ID:            "snap-1",
		Departments:   depts,
		HeatmapPoints: domain.HeatmapPoints(depts),
		LastUpdated:   time.Date(2025, 10, 14, 6, 0, 0, 0, time.UTC),
		Source:        "fetched",
	}
}

func newTestServer(readyErr error, chat httpadapter.ChatAnswerer) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, staticSnapshots{snap: testSnapshot()}, chat, observability.DiscardLogger())
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthzReturns200(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := do(t, newTestServer(fmt.Errorf("risk map has not been built yet"), nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestID(t *testing.T) {
	srv := newTestServer(nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/risk-data/stats", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/risk-data/stats", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRiskData(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/api/risk-data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	snap := decode[domain.RiskSnapshot](t, rec)
	assert.Equal(t, testSnapshot(), snap)
}

func TestDepartment(t *testing.T) {
	srv := newTestServer(nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/risk-data/department/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[domain.Department](t, rec)
	assert.Equal(t, "Ain", d.Name, "codes are zero-padded")

	rec = do(t, srv, http.MethodGet, "/api/risk-data/department/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Department not found", decode[map[string]string](t, rec)["error"])
}

func TestHeatmap(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/api/risk-data/heatmap", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Points      [][3]float64 `json:"points"`
		LastUpdated time.Time    `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Points, 2)
	assert.InDelta(t, 80.0, body.Points[1][2], 1e-9)
	assert.Equal(t, testSnapshot().LastUpdated, body.LastUpdated)
}

func TestStats(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/api/risk-data/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[domain.Stats](t, rec)
	assert.Equal(t, 2, st.TotalDepartments)
	assert.InDelta(t, 0.55, st.AverageRiskScore, 1e-9)
	assert.Equal(t, []string{"Paris"}, st.HighRiskDepartments)
	assert.Equal(t, 1, st.RiskLevelDistribution[domain.RiskLow])
}

func TestChat(t *testing.T) {
	chat := &mockChat{answer: "**Paris** est à risque élevé."}
	rec := do(t, newTestServer(nil, chat), http.MethodPost, "/api/chat", `{"message": "Où est le risque ?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Response  string    `json:"response"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, chat.answer, body.Response)
	assert.False(t, body.Timestamp.IsZero())
	assert.Equal(t, "Où est le risque ?", chat.question)
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name string
		chat httpadapter.ChatAnswerer
		body string
		want int
	}{
		{"not configured", nil, `{"message": "q"}`, http.StatusServiceUnavailable},
		{"malformed body", &mockChat{}, `{"message":`, http.StatusBadRequest},
		{"empty message", &mockChat{err: pipeline.ErrEmptyQuestion}, `{"message": ""}`, http.StatusBadRequest},
		{"no completer", &mockChat{err: pipeline.ErrChatUnavailable}, `{"message": "q"}`, http.StatusServiceUnavailable},
		{"timeout", &mockChat{err: fmt.Errorf("ask: %w", domain.ErrCompletionTimeout)}, `{"message": "q"}`, http.StatusGatewayTimeout},
		{"upstream failure", &mockChat{err: errors.New("connection refused")}, `{"message": "q"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(nil, tt.chat), http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestChatWithService(t *testing.T) {
	svc := pipeline.NewChatService(staticSnapshots{snap: testSnapshot()}, nil, time.Second, observability.DiscardLogger())
	rec := do(t, newTestServer(nil, svc), http.MethodPost, "/api/chat", `{"message": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
