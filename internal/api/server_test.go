package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/kyle/internal/connwatch"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/usage"
)

type fakeHealth struct {
	statuses []connwatch.ServiceStatus
}

func (f *fakeHealth) Status() []connwatch.ServiceStatus { return f.statuses }

func (f *fakeHealth) AllReady() bool {
	for _, s := range f.statuses {
		if !s.Ready {
			return false
		}
	}
	return true
}

type pingRoutes struct{}

func (pingRoutes) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
}

type brokenHistory struct{}

func (brokenHistory) ListConversations(context.Context, int) ([]history.Conversation, error) {
	return nil, errors.New("disk on fire")
}

func (brokenHistory) ToolCallsForConversation(context.Context, string) ([]history.ToolCall, error) {
	return nil, errors.New("disk on fire")
}

func (brokenHistory) ToolCallStats(context.Context) ([]history.ToolStat, error) {
	return nil, errors.New("disk on fire")
}

// newTestServer returns a server backed by real SQLite stores holding one
// conversation with two tool calls (one failed) and one usage record.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ctx := context.Background()

	hist, err := history.Open(history.DriverPure, filepath.Join(t.TempDir(), "kyle.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	convID, err := hist.GetOrCreateConversation(ctx, "1700.1", "C1", "U1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	ref := &history.MediaRef{
		Kind:   history.MediaMovie,
		Action: history.ActionAdd,
		IDs:    map[string]int{"tmdbId": 27205, "radarrId": 42},
		Title:  "Inception",
	}
	if err := hist.Record(ctx, convID, "addMovie", map[string]any{"tmdbId": 27205}, map[string]any{"id": 42}, ref); err != nil {
		t.Fatalf("record addMovie: %v", err)
	}
	if err := hist.Record(ctx, convID, "getMovie", map[string]any{"id": 7}, nil, nil); err != nil {
		t.Fatalf("record getMovie: %v", err)
	}

	us, err := usage.New(hist.DB(), nil)
	if err != nil {
		t.Fatalf("usage store: %v", err)
	}
	if err := us.Record(ctx, usage.Record{
		Timestamp:    time.Now().Add(-time.Hour),
		Model:        "claude-sonnet-4-20250514",
		Provider:     "anthropic",
		Role:         usage.RoleAgent,
		InputTokens:  1200,
		OutputTokens: 300,
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	s := NewServer("127.0.0.1", 0, nil)
	s.SetHistoryStore(hist)
	s.SetUsageStore(us)
	return s, convID
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v (body %q)", path, err, rec.Body.String())
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := NewServer("", 0, nil)

	rec, body := get(t, s.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if _, ok := body["services"]; ok {
		t.Error("services present without a health reporter")
	}

	s.SetHealthReporter(&fakeHealth{statuses: []connwatch.ServiceStatus{
		{Name: "radarr", Ready: true},
		{Name: "sonarr", Ready: false, LastError: "connection refused"},
	}})
	rec, body = get(t, s.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when degraded", rec.Code)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	services, _ := body["services"].([]any)
	if len(services) != 2 {
		t.Fatalf("services = %v, want 2 entries", body["services"])
	}
	sonarr := services[1].(map[string]any)
	if sonarr["last_error"] != "connection refused" {
		t.Errorf("sonarr last_error = %v", sonarr["last_error"])
	}
}

func TestVersionAndRoot(t *testing.T) {
	s := NewServer("", 0, nil)

	rec, body := get(t, s.Handler(), "/v1/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d", rec.Code)
	}
	if body["version"] == nil || body["go_version"] == nil {
		t.Errorf("version body missing fields: %v", body)
	}

	_, body = get(t, s.Handler(), "/")
	if body["name"] != "Kyle" {
		t.Errorf("root name = %v, want Kyle", body["name"])
	}

	rec, _ = get(t, s.Handler(), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestConversations(t *testing.T) {
	s, convID := newTestServer(t)
	h := s.Handler()

	rec, body := get(t, h, "/v1/conversations")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}
	conv := body["conversations"].([]any)[0].(map[string]any)
	if conv["id"] != convID || conv["thread_ts"] != "1700.1" || conv["channel_id"] != "C1" {
		t.Errorf("conversation = %v", conv)
	}
	if conv["tool_call_count"] != float64(2) {
		t.Errorf("tool_call_count = %v, want 2", conv["tool_call_count"])
	}

	rec, body = get(t, h, "/v1/conversations/"+convID+"/tool-calls")
	if rec.Code != http.StatusOK {
		t.Fatalf("tool-calls status = %d", rec.Code)
	}
	calls := body["tool_calls"].([]any)
	if len(calls) != 2 {
		t.Fatalf("tool_calls = %d, want 2", len(calls))
	}
	first := calls[0].(map[string]any)
	if first["tool_name"] != "addMovie" {
		t.Errorf("first tool = %v, want addMovie", first["tool_name"])
	}
	if second := calls[1].(map[string]any); second["result"] != nil {
		t.Errorf("failed call result = %v, want omitted", second["result"])
	}

	rec, _ = get(t, h, "/v1/conversations/does-not-exist/tool-calls")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation status = %d, want 404", rec.Code)
	}
}

func TestToolStats(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := get(t, s.Handler(), "/v1/tools/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	tools := body["tools"].([]any)
	if len(tools) != 2 {
		t.Fatalf("tools = %v, want 2", tools)
	}
	byName := map[string]map[string]any{}
	for _, raw := range tools {
		st := raw.(map[string]any)
		byName[st["tool"].(string)] = st
	}
	if byName["getMovie"]["failures"] != float64(1) {
		t.Errorf("getMovie failures = %v, want 1", byName["getMovie"]["failures"])
	}
	if byName["addMovie"]["failures"] != float64(0) {
		t.Errorf("addMovie failures = %v, want 0", byName["addMovie"]["failures"])
	}
}

func TestUsage(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, body := get(t, h, "/v1/usage")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	total := body["total"].(map[string]any)
	if total["total_input_tokens"] != float64(1200) || total["total_output_tokens"] != float64(300) {
		t.Errorf("total = %v", total)
	}
	if _, ok := body["by_role"].(map[string]any)[usage.RoleAgent]; !ok {
		t.Errorf("by_role = %v, want %s entry", body["by_role"], usage.RoleAgent)
	}

	_, body = get(t, h, "/v1/usage?hours=0")
	if body["error"] == nil {
		t.Error("hours=0 accepted")
	}
	rec, _ = get(t, h, "/v1/usage?hours=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("hours=abc status = %d, want 400", rec.Code)
	}
}

func TestStoresNotConfigured(t *testing.T) {
	h := NewServer("", 0, nil).Handler()
	for _, path := range []string{
		"/v1/conversations",
		"/v1/conversations/x/tool-calls",
		"/v1/tools/stats",
		"/v1/usage",
	} {
		t.Run(path, func(t *testing.T) {
			rec, _ := get(t, h, path)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
		})
	}
}

func TestStoreErrors(t *testing.T) {
	s := NewServer("", 0, nil)
	s.SetHistoryStore(brokenHistory{})
	h := s.Handler()

	for _, path := range []string{"/v1/conversations", "/v1/conversations/x/tool-calls", "/v1/tools/stats"} {
		rec, body := get(t, h, path)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s status = %d, want 500", path, rec.Code)
		}
		if msg, _ := body["error"].(map[string]any)["message"].(string); msg == "" || msg == "disk on fire" {
			t.Errorf("%s error message = %q, want generic message", path, msg)
		}
	}
}

func TestMount(t *testing.T) {
	s := NewServer("", 0, nil)
	s.Mount(pingRoutes{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/ping", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("mounted route status = %d, want 202", rec.Code)
	}
}

func TestStatusRecorder(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)
	if rec.status != http.StatusTeapot || inner.Code != http.StatusTeapot {
		t.Errorf("status = %d / %d, want 418", rec.status, inner.Code)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewServer("127.0.0.1", 0, nil)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Start after Shutdown = %v, want ErrServerClosed", err)
	}
}
