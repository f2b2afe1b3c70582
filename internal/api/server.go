// Package api implements Kyle's operational HTTP API: health, build
// info, conversation history, tool and usage statistics, and the
// Radarr/Sonarr webhook receivers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/kyle/internal/buildinfo"
	"github.com/nugget/kyle/internal/connwatch"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// HistoryReader is the read side of the tool-call history.
type HistoryReader interface {
	ListConversations(ctx context.Context, limit int) ([]history.Conversation, error)
	ToolCallsForConversation(ctx context.Context, conversationID string) ([]history.ToolCall, error)
	ToolCallStats(ctx context.Context) ([]history.ToolStat, error)
}

// UsageReporter aggregates recorded token usage.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByRole(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// HealthReporter reports the state of watched upstream services.
type HealthReporter interface {
	Status() []connwatch.ServiceStatus
	AllReady() bool
}

// RouteRegistrar mounts extra routes, such as the webhook receivers.
type RouteRegistrar interface {
	Register(mux *http.ServeMux)
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	history HistoryReader
	usage   UsageReporter
	health  HealthReporter
	extra   []RouteRegistrar
	logger  *slog.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a new API server. Stores and route sets are attached
// with the Set and Mount methods before Start.
func NewServer(address string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		logger:  logger.With("component", "api"),
	}
}

// SetHistoryStore configures the store behind the conversation endpoints.
func (s *Server) SetHistoryStore(h HistoryReader) {
	s.history = h
}

// SetUsageStore configures the store behind /v1/usage.
func (s *Server) SetUsageStore(u UsageReporter) {
	s.usage = u
}

// SetHealthReporter configures the connection watcher behind /health.
func (s *Server) SetHealthReporter(h HealthReporter) {
	s.health = h
}

// Mount adds a set of routes to the server.
func (s *Server) Mount(r RouteRegistrar) {
	s.extra = append(s.extra, r)
}

// Handler builds the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}/tool-calls", s.handleConversationToolCalls)
	mux.HandleFunc("GET /v1/tools/stats", s.handleToolStats)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	for _, r := range s.extra {
		r.Register(mux)
	}
	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.server = srv
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server. A later Start returns
// [http.ErrServerClosed].
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelDebug
		if rec.status >= 400 {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Kyle",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth answers 200 while the process is up. Upstream outages
// show as "degraded" rather than failing the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "healthy",
		"uptime": buildinfo.Uptime().String(),
	}
	if s.health != nil {
		resp["services"] = s.health.Status()
		if !s.health.AllReady() {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	convs, err := s.history.ListConversations(r.Context(), limit)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []history.Conversation{}
	}

	writeJSON(w, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	}, s.logger)
}

func (s *Server) handleConversationToolCalls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	id := r.PathValue("id")
	calls, err := s.history.ToolCallsForConversation(r.Context(), id)
	if err != nil {
		s.logger.Error("tool calls lookup failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load tool calls")
		return
	}
	if len(calls) == 0 {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, map[string]any{
		"conversation_id": id,
		"tool_calls":      calls,
		"count":           len(calls),
	}, s.logger)
}

func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	stats, err := s.history.ToolCallStats(r.Context())
	if err != nil {
		s.logger.Error("tool stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to compute tool stats")
		return
	}
	if stats == nil {
		stats = []history.ToolStat{}
	}
	writeJSON(w, map[string]any{"tools": stats}, s.logger)
}

// handleUsage reports token usage over the trailing window given by
// ?hours= (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage store not configured")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	ctx := r.Context()
	total, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize usage")
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize usage")
		return
	}
	byRole, err := s.usage.SummaryByRole(ctx, start, end)
	if err != nil {
		s.logger.Error("usage by role failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize usage")
		return
	}

	writeJSON(w, map[string]any{
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
		"total":    total,
		"by_model": byModel,
		"by_role":  byRole,
	}, s.logger)
}
