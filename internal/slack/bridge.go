package slack

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/nugget/kyle/internal/events"
)

// AgentRunner abstracts the agent loop for testability. The real
// implementation is *agent.Loop.
type AgentRunner interface {
	Run(ctx context.Context, turn *ConversationContext, msg *MessageWithContext) error
}

// defaultHandleTimeout bounds one inbound message, from context fetch
// to final reply.
const defaultHandleTimeout = 5 * time.Minute

// cleanupTimeout bounds the reply and status cleanup after a turn.
const cleanupTimeout = 10 * time.Second

// rateWindow is the sliding window for per-user rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// Message subtypes that never start a turn.
var ignoredSubtypes = map[string]bool{
	"message_changed": true,
	"message_deleted": true,
	"bot_message":     true,
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	BotUserID string
	Builder   *ContextBuilder
	Runner    AgentRunner
	Streamer  *Streamer
	Status    *StatusNotifier
	Bus       *events.Bus
	Logger    *slog.Logger
	Timeout   time.Duration // per turn; 0 = 5m
	RateLimit int           // per user per minute; 0 = unlimited
}

// Bridge decides which Slack events start a turn, builds the turn's
// context, and runs it through the agent loop in its own goroutine.
type Bridge struct {
	botUserID string
	builder   *ContextBuilder
	runner    AgentRunner
	streamer  *Streamer
	status    *StatusNotifier
	bus       *events.Bus
	logger    *slog.Logger
	timeout   time.Duration
	rateLimit int

	wg sync.WaitGroup

	mu          sync.Mutex
	userTimes   map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a Slack message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}
	return &Bridge{
		botUserID: cfg.BotUserID,
		builder:   cfg.Builder,
		runner:    cfg.Runner,
		streamer:  cfg.Streamer,
		status:    cfg.Status,
		bus:       cfg.Bus,
		logger:    logger.With("component", "slack_bridge"),
		timeout:   timeout,
		rateLimit: cfg.RateLimit,
		userTimes: make(map[string][]time.Time),
	}
}

// HandleEvent is the SocketMode EventHandler. Accepted events are
// processed asynchronously; it returns immediately.
func (b *Bridge) HandleEvent(ctx context.Context, ev *MessageEvent) {
	if !b.accept(ev) {
		return
	}
	if !b.allowUser(ev.User) {
		b.logger.Warn("slack message rate-limited", "user_id", ev.User, "channel", ev.Channel)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleMessage(ctx, ev)
	}()
}

// Wait blocks until every in-flight turn has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// accept applies the event filter: edits, bot posts, our own streaming
// updates and channel chatter that does not mention us are ignored.
func (b *Bridge) accept(ev *MessageEvent) bool {
	switch {
	case ev.Type != "message":
		return false
	case ignoredSubtypes[ev.Subtype]:
		return false
	case ev.StreamingState == "in_progress":
		return false
	case ev.BotProfile != nil:
		return false
	case ev.User == "" || ev.User == b.botUserID:
		return false
	}
	if ev.ChannelType != "im" && !strings.Contains(ev.Text, "<@"+b.botUserID) {
		b.logger.Log(context.Background(), levelTrace, "ignoring channel message without mention",
			"channel", ev.Channel, "ts", ev.TS)
		return false
	}
	return true
}

// handleMessage processes a single accepted message.
func (b *Bridge) handleMessage(ctx context.Context, ev *MessageEvent) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	threadTS := ev.Thread()
	turn := NewConversationContext(ev.Channel, threadTS, ev.Team, ev.User)

	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("turn panicked", "thread_ts", threadTS, "panic", p, "stack", string(debug.Stack()))
		}
		// Best-effort cleanup on a fresh context so it still runs
		// after a timeout. Stop is a no-op if the loop already sent.
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cleanupCancel()
		if err := b.streamer.Stop(cleanupCtx, turn); err != nil {
			b.logger.Error("failed to deliver reply", "channel", ev.Channel, "thread_ts", threadTS, "error", err)
		}
		if b.status != nil {
			b.status.Clear(turn)
		}
	}()

	b.logger.Info("slack message received",
		"channel", ev.Channel,
		"channel_type", ev.ChannelType,
		"thread_ts", threadTS,
		"user_id", ev.User,
		"message_len", len(ev.Text),
	)
	b.bus.Emit(events.SourceSlack, events.KindMessageReceived, map[string]any{
		"channel_id":  ev.Channel,
		"thread_ts":   threadTS,
		"user_id":     ev.User,
		"message_len": len(ev.Text),
	})

	msg := b.builder.Build(ctx, ev.Channel, threadTS, ev)

	start := time.Now()
	if err := b.runner.Run(ctx, turn, msg); err != nil {
		b.logger.Error("agent run failed",
			"channel", ev.Channel, "thread_ts", threadTS, "elapsed", time.Since(start), "error", err)
		return
	}
	b.logger.Info("agent run completed",
		"channel", ev.Channel, "thread_ts", threadTS, "elapsed", time.Since(start))
}

// allowUser checks whether the user is within the per-minute rate
// limit.
func (b *Bridge) allowUser(userID string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	times := b.userTimes[userID]
	valid := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= b.rateLimit {
		b.userTimes[userID] = valid
		return false
	}
	b.userTimes[userID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts idle users. Must be called with b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for user, times := range b.userTimes {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(b.userTimes, user)
		}
	}
}
