package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/kyle/internal/connwatch"
)

type staticConnector struct{ url string }

func (c staticConnector) OpenConnection(context.Context) (string, error) { return c.url, nil }

func TestSocketMode_AcksAndDispatchesMessages(t *testing.T) {
	acks := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"type": "hello"})
		_ = conn.WriteJSON(map[string]any{
			"envelope_id": "env-1",
			"type":        "events_api",
			"payload": map[string]any{
				"type":    "event_callback",
				"team_id": "T9",
				"event": map[string]any{
					"type": "message", "channel": "D1", "channel_type": "im",
					"user": "U1", "text": "hello", "ts": "1.0",
				},
			},
		})
		_ = conn.WriteJSON(map[string]any{
			"envelope_id": "env-2",
			"type":        "events_api",
			"payload": map[string]any{
				"type":  "event_callback",
				"event": map[string]any{"type": "reaction_added", "user": "U1"},
			},
		})

		for range 2 {
			var ack struct {
				EnvelopeID string `json:"envelope_id"`
			}
			if err := conn.ReadJSON(&ack); err != nil {
				return
			}
			acks <- ack.EnvelopeID
		}
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []*MessageEvent
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := NewSocketMode(SocketModeConfig{
		Connector: staticConnector{url: "ws" + strings.TrimPrefix(srv.URL, "http")},
		Handler: func(_ context.Context, ev *MessageEvent) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		},
		Backoff: connwatch.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()

	for _, want := range []string{"env-1", "env-2"} {
		select {
		case id := <-acks:
			assert.Equal(t, want, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ack %s", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "T9", got[0].Team)
}

func TestSocketMode_ReconnectsAfterDisconnect(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		connections++
		mu.Unlock()
		_ = conn.WriteJSON(map[string]any{"type": "hello"})
		_ = conn.WriteJSON(map[string]any{"type": "disconnect", "reason": "refresh_requested"})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := NewSocketMode(SocketModeConfig{
		Connector: staticConnector{url: "ws" + strings.TrimPrefix(srv.URL, "http")},
		Handler:   func(context.Context, *MessageEvent) {},
		Backoff:   connwatch.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	go func() { _ = sm.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections >= 2
	}, 2*time.Second, 5*time.Millisecond)
}
