package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/kyle/internal/connwatch"
	"github.com/nugget/kyle/internal/events"
)

const (
	// socketReadTimeout is how long the connection may stay silent.
	// Slack pings well inside this window.
	socketReadTimeout = 2 * time.Minute
	socketWriteTimeout = 10 * time.Second
)

// Connector opens Socket Mode sessions. *Client satisfies it.
type Connector interface {
	OpenConnection(ctx context.Context) (string, error)
}

// EventHandler receives message events. It must not block; long work
// belongs in its own goroutine.
type EventHandler func(ctx context.Context, ev *MessageEvent)

// socketEnvelope is one Socket Mode frame.
type socketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type eventsAPIPayload struct {
	Type   string          `json:"type"`
	TeamID string          `json:"team_id"`
	Event  json.RawMessage `json:"event"`
}

// SocketModeConfig holds the dependencies for a SocketMode runner.
type SocketModeConfig struct {
	Connector Connector
	Handler   EventHandler
	Bus       *events.Bus
	Backoff   connwatch.BackoffConfig
	Logger    *slog.Logger
}

// SocketMode keeps a Socket Mode connection open, acknowledges every
// envelope, and hands message events to the handler. Dropped
// connections are re-opened with exponential backoff.
type SocketMode struct {
	connector Connector
	handler   EventHandler
	bus       *events.Bus
	backoff   connwatch.BackoffConfig
	dialer    *websocket.Dialer
	logger    *slog.Logger
}

// NewSocketMode creates a Socket Mode runner.
func NewSocketMode(cfg SocketModeConfig) *SocketMode {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketMode{
		connector: cfg.Connector,
		handler:   cfg.Handler,
		bus:       cfg.Bus,
		backoff:   cfg.Backoff,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		logger: logger.With("component", "socketmode"),
	}
}

// Run blocks until ctx is cancelled, reconnecting as needed.
func (s *SocketMode) Run(ctx context.Context) error {
	backoff := connwatch.NewBackoff(s.backoff)
	for attempt := 1; ; attempt++ {
		err := s.session(ctx, attempt, backoff)
		if ctx.Err() != nil {
			return nil
		}
		delay := backoff.Next()
		s.logger.Warn("socket mode connection lost, reconnecting",
			"error", err, "attempt", attempt, "delay", delay.String())
		s.bus.Emit(events.SourceSlack, events.KindDisconnected, map[string]any{
			"service": "slack",
			"reason":  err.Error(),
		})
		if !connwatch.Sleep(ctx, delay) {
			return nil
		}
	}
}

// session runs one connection until it fails or Slack asks us to go.
func (s *SocketMode) session(ctx context.Context, attempt int, backoff *connwatch.Backoff) error {
	wsURL, err := s.connector.OpenConnection(ctx)
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var writeMu sync.Mutex
	ack := func(id string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		return conn.WriteJSON(map[string]string{"envelope_id": id})
	}

	_ = conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(socketWriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var env socketEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(socketReadTimeout))

		if env.EnvelopeID != "" {
			if err := ack(env.EnvelopeID); err != nil {
				return fmt.Errorf("ack envelope: %w", err)
			}
		}

		switch env.Type {
		case "hello":
			backoff.Reset()
			s.logger.Info("socket mode connected", "attempt", attempt)
			s.bus.Emit(events.SourceSlack, events.KindConnected, map[string]any{
				"service": "slack",
				"attempt": attempt,
			})
		case "disconnect":
			return fmt.Errorf("server requested disconnect: %s", env.Reason)
		case "events_api":
			s.dispatch(ctx, env.Payload)
		default:
			s.logger.Log(ctx, levelTrace, "ignoring envelope", "type", env.Type)
		}
	}
}

func (s *SocketMode) dispatch(ctx context.Context, raw json.RawMessage) {
	var payload eventsAPIPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("malformed events_api payload", "error", err)
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload.Event, &head); err != nil {
		s.logger.Warn("malformed event", "error", err)
		return
	}
	if head.Type != "message" {
		s.logger.Log(ctx, levelTrace, "ignoring event", "type", head.Type)
		return
	}

	var ev MessageEvent
	if err := json.Unmarshal(payload.Event, &ev); err != nil {
		s.logger.Warn("malformed message event", "error", err)
		return
	}
	if ev.Team == "" {
		ev.Team = payload.TeamID
	}
	s.handler(ctx, &ev)
}
