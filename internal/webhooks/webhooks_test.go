package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/kyle/internal/events"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/usage"
)

type scriptedLLM struct {
	reply   string
	err     error
	prompts []string
}

func (m *scriptedLLM) Chat(_ context.Context, _ string, msgs []llm.Message, _ []llm.ToolDef) (*llm.ChatResponse, error) {
	m.prompts = append(m.prompts, msgs[0].Content)
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: m.reply}, InputTokens: 120, OutputTokens: 18}, nil
}

func (m *scriptedLLM) ChatStream(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolDef, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return m.Chat(ctx, model, msgs, tools)
}

func (m *scriptedLLM) Ping(context.Context) error { return nil }

type fakePoster struct {
	mu    sync.Mutex
	posts []slack.PostMessageParams
	fail  map[string]bool
}

func (p *fakePoster) PostMessage(_ context.Context, params slack.PostMessageParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[params.Channel] {
		return "", errors.New("channel_not_found")
	}
	p.posts = append(p.posts, params)
	return "1.1", nil
}

type fakeUsage struct{ recs []usage.Record }

func (f *fakeUsage) Record(_ context.Context, r usage.Record) error {
	f.recs = append(f.recs, r)
	return nil
}

// seedStore records an addMovie for Inception in thread 1700.1 and an
// addSeries for Severance in thread 1700.2.
func seedStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(history.DriverPure, filepath.Join(t.TempDir(), "kyle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	conv, err := store.GetOrCreateConversation(ctx, "1700.1", "C1", "U1")
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, conv, "addMovie", map[string]any{"tmdbId": 27205}, map[string]any{"id": 42},
		&history.MediaRef{Kind: history.MediaMovie, Action: history.ActionAdd, IDs: map[string]int{"tmdbId": 27205, "radarrId": 42}, Title: "Inception"}))

	conv2, err := store.GetOrCreateConversation(ctx, "1700.2", "C2", "U2")
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, conv2, "addSeries", map[string]any{"tvdbId": 371980}, map[string]any{"id": 7},
		&history.MediaRef{Kind: history.MediaSeries, Action: history.ActionAdd, IDs: map[string]int{"tvdbId": 371980, "sonarrId": 7}, Title: "Severance"}))
	return store
}

type harness struct {
	srv    *httptest.Server
	poster *fakePoster
	llm    *scriptedLLM
	usage  *fakeUsage
	bus    *events.Bus
}

func newHarness(t *testing.T, username, hash string) *harness {
	t.Helper()
	h := &harness{
		poster: &fakePoster{},
		llm:    &scriptedLLM{reply: "**Inception** just finished downloading."},
		usage:  &fakeUsage{},
		bus:    events.New(),
	}
	n := NewNotifier(NotifierConfig{
		BotName:    "Kyle",
		Model:      "small",
		Provider:   "openai",
		Requesters: seedStore(t),
		Poster:     h.poster,
		LLM:        h.llm,
		Usage:      h.usage,
		Bus:        h.bus,
	})
	mux := http.NewServeMux()
	NewHandler(n, username, hash, nil).Register(mux)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) post(t *testing.T, path, body string) (int, string) {
	t.Helper()
	resp, err := h.srv.Client().Post(h.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.String()
}

func TestRadarrDownload_NotifiesRequester(t *testing.T) {
	h := newHarness(t, "", "")
	sub := h.bus.Subscribe(4)

	code, body := h.post(t, "/webhooks/radarr", `{"eventType":"Download","movie":{"id":42,"title":"Inception","year":2010,"tmdbId":27205},
		"release":{"quality":"Bluray-2160p","releaseGroup":"FraMeSToR"}}`)

	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","notified":1}`, body)

	require.Len(t, h.poster.posts, 1)
	assert.Equal(t, slack.PostMessageParams{Channel: "C1", ThreadTS: "1700.1", Text: "*Inception* just finished downloading."}, h.poster.posts[0])

	require.Len(t, h.llm.prompts, 1)
	assert.Contains(t, h.llm.prompts[0], "You are Kyle")
	assert.Contains(t, h.llm.prompts[0], "Title: Inception\nYear: 2010\nQuality: Bluray-2160p\nRelease group: FraMeSToR")

	require.Len(t, h.usage.recs, 1)
	assert.Equal(t, usage.RoleNotification, h.usage.recs[0].Role)

	ev := <-sub
	assert.Equal(t, events.KindMediaAvailable, ev.Kind)
	assert.Equal(t, 1, ev.Data["notified"])
}

func TestRadarrDownload_MatchesOnAnyIdentifier(t *testing.T) {
	h := newHarness(t, "", "")

	_, body := h.post(t, "/webhooks/radarr", `{"eventType":"Download","movie":{"id":42,"title":"Inception","year":2010}}`)

	assert.JSONEq(t, `{"status":"ok","notified":1}`, body)
}

func TestRadarrDownload_NoRequesters(t *testing.T) {
	h := newHarness(t, "", "")

	_, body := h.post(t, "/webhooks/radarr", `{"eventType":"Download","movie":{"id":99,"title":"Tenet","year":2020,"tmdbId":577922}}`)

	assert.JSONEq(t, `{"status":"ok","notified":0}`, body)
	assert.Empty(t, h.poster.posts)
	assert.Empty(t, h.llm.prompts, "nothing to say, so nothing generated")
}

func TestSonarrDownload_FallbackText(t *testing.T) {
	h := newHarness(t, "", "")
	h.llm.err = errors.New("overloaded")

	_, body := h.post(t, "/webhooks/sonarr", `{"eventType":"Download","series":{"id":7,"title":"Severance","year":2022,"tvdbId":371980},
		"episodes":[{"seasonNumber":2,"episodeNumber":1,"title":"Hello, Ms. Cobel"},{"seasonNumber":2,"episodeNumber":2,"title":"Goodbye, Mrs. Selvig"}]}`)

	assert.JSONEq(t, `{"status":"ok","notified":1}`, body)
	require.Len(t, h.poster.posts, 1)
	assert.Equal(t, "Severance S02E01, S02E02 are now available in your library.", h.poster.posts[0].Text)
	assert.Equal(t, "1700.2", h.poster.posts[0].ThreadTS)
	assert.Empty(t, h.usage.recs)
}

func TestNonDownloadEvents(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"radarr test", "/webhooks/radarr", `{"eventType":"Test"}`, `{"status":"ok","message":"test received"}`},
		{"sonarr test", "/webhooks/sonarr", `{"eventType":"Test"}`, `{"status":"ok","message":"test received"}`},
		{"upgrade", "/webhooks/radarr", `{"eventType":"Upgrade","movie":{"id":42}}`, `{"status":"ignored","reason":"upgrade"}`},
		{"download marked upgrade", "/webhooks/radarr", `{"eventType":"Download","isUpgrade":true,"movie":{"id":42}}`, `{"status":"ignored","reason":"upgrade"}`},
		{"grab", "/webhooks/sonarr", `{"eventType":"Grab","series":{"id":7}}`, `{"status":"ignored","reason":"unknown event"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "", "")

			code, body := h.post(t, tt.path, tt.body)

			assert.Equal(t, http.StatusOK, code)
			assert.JSONEq(t, tt.want, body)
			assert.Empty(t, h.poster.posts)
		})
	}
}

func TestInvalidBody(t *testing.T) {
	h := newHarness(t, "", "")

	code, _ := h.post(t, "/webhooks/radarr", `not json`)

	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t, "radarr", string(hash))

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "radarr", "nope", true, http.StatusUnauthorized},
		{"wrong user", "sonarr", "hunter2", true, http.StatusUnauthorized},
		{"valid", "radarr", "hunter2", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/webhooks/radarr", strings.NewReader(`{"eventType":"Test"}`))
			require.NoError(t, err)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			resp, err := h.srv.Client().Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestNotify_PostFailureNotCounted(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "1800.1", "CX", "U3")
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, conv, "addMovie", nil, nil,
		&history.MediaRef{Kind: history.MediaMovie, Action: history.ActionAdd, IDs: map[string]int{"tmdbId": 27205}, Title: "Inception"}))

	poster := &fakePoster{fail: map[string]bool{"CX": true}}
	n := NewNotifier(NotifierConfig{Requesters: store, Poster: poster})

	got, err := n.Notify(ctx, Media{Kind: history.MediaMovie, Title: "Inception", Year: 2010}, map[string]int{"tmdbId": 27205})

	require.NoError(t, err)
	assert.Equal(t, 1, got)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "Inception (2010) is now available in your library.", poster.posts[0].Text)
}

func TestMediaFallback(t *testing.T) {
	tests := []struct {
		m    Media
		want string
	}{
		{Media{Title: "Alien"}, "Alien is now available in your library."},
		{Media{Title: "Alien", Year: 1979}, "Alien (1979) is now available in your library."},
		{Media{Title: "Breaking Bad", Episodes: []SonarrEpisode{{SeasonNumber: 1, EpisodeNumber: 5}}}, "Breaking Bad S01E05 is now available in your library."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.m.Fallback())
	}
}
