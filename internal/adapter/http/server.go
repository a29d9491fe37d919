package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/pipeline"
)

// maxChatBody bounds POST /api/chat request bodies.
const maxChatBody = 64 << 10

// SnapshotProvider returns the risk map to serve.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) domain.RiskSnapshot
}

// ChatAnswerer answers a question about the risk map.
type ChatAnswerer interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Server exposes health, readiness, metrics, the risk map API and the chat
// assistant.
type Server struct {
	httpServer *http.Server
	snapshots  SnapshotProvider
	chat       ChatAnswerer
	logger     *slog.Logger
}

// NewServer creates an HTTP server. A nil chat answers 503 on /api/chat.
func NewServer(addr string, ready sharedobs.ReadinessChecker, snapshots SnapshotProvider, chat ChatAnswerer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			ReadTimeout: 10 * time.Second,
			// Chat completions hold the response open.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		snapshots: snapshots,
		chat:      chat,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/risk-data", s.handleRiskData)
	mux.HandleFunc("GET /api/risk-data/department/{code}", s.handleDepartment)
	mux.HandleFunc("GET /api/risk-data/heatmap", s.handleHeatmap)
	mux.HandleFunc("GET /api/risk-data/stats", s.handleStats)
	mux.HandleFunc("POST /api/chat", s.handleChat)

	s.httpServer.Handler = s.withRequestID(mux)
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleRiskData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots.Snapshot(r.Context()))
}

func (s *Server) handleDepartment(w http.ResponseWriter, r *http.Request) {
	code := domain.PadDepartmentCode(r.PathValue("code"))
	d, ok := s.snapshots.Snapshot(r.Context()).Department(code)
	if !ok {
		writeError(w, http.StatusNotFound, "Department not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type heatmapResponse struct {
	Points      [][3]float64 `json:"points"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Degraded    bool         `json:"degraded"`
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshots.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, heatmapResponse{
		Points:      snap.HeatmapPoints,
		LastUpdated: snap.LastUpdated,
		Degraded:    snap.Degraded,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.ComputeStats(s.snapshots.Snapshot(r.Context()).Departments))
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "Chat assistant is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	answer, err := s.chat.Ask(r.Context(), req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Response: answer, Timestamp: time.Now().UTC()})
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "Message is required")
	case errors.Is(err, pipeline.ErrChatUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Chat assistant is not configured")
	case errors.Is(err, domain.ErrCompletionTimeout):
		writeError(w, http.StatusGatewayTimeout, "Chat assistant timed out")
	default:
		s.logger.Error("chat failed", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusBadGateway, "Failed to process chat message")
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID propagates or assigns X-Request-ID and logs each request.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		s.logger.Debug("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
