package slack

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/kyle/internal/events"
)

type runnerCall struct {
	turn *ConversationContext
	msg  *MessageWithContext
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runnerCall
	fn    func(ctx context.Context, turn *ConversationContext, msg *MessageWithContext) error
}

func (r *fakeRunner) Run(ctx context.Context, turn *ConversationContext, msg *MessageWithContext) error {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{turn: turn, msg: msg})
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, turn, msg)
	}
	return nil
}

func newTestBridge(api *fakeAPI, runner AgentRunner, rateLimit int) (*Bridge, *StatusNotifier) {
	status := NewStatusNotifier(api, nil)
	return NewBridge(BridgeConfig{
		BotUserID: botID,
		Builder:   NewContextBuilder(api, botID, "Kyle", 20, nil),
		Runner:    runner,
		Streamer:  NewStreamer(api, emptyFallback, nil),
		Status:    status,
		RateLimit: rateLimit,
	}), status
}

func TestBridge_Accept(t *testing.T) {
	b, status := newTestBridge(newFakeAPI(), &fakeRunner{}, 0)
	defer status.Close()

	tests := []struct {
		name string
		ev   MessageEvent
		want bool
	}{
		{"direct message", MessageEvent{Type: "message", ChannelType: "im", User: "U1", Text: "hi"}, true},
		{"channel mention", MessageEvent{Type: "message", ChannelType: "channel", User: "U1", Text: "<@UBOT> hi"}, true},
		{"channel without mention", MessageEvent{Type: "message", ChannelType: "channel", User: "U1", Text: "hi"}, false},
		{"edit", MessageEvent{Type: "message", Subtype: "message_changed", ChannelType: "im", User: "U1"}, false},
		{"bot message subtype", MessageEvent{Type: "message", Subtype: "bot_message", ChannelType: "im", User: "U1"}, false},
		{"streaming update", MessageEvent{Type: "message", StreamingState: "in_progress", ChannelType: "im", User: "U1"}, false},
		{"bot profile", MessageEvent{Type: "message", ChannelType: "im", User: "U1", BotProfile: &BotProfile{ID: "B1"}}, false},
		{"own message", MessageEvent{Type: "message", ChannelType: "im", User: botID}, false},
		{"not a message", MessageEvent{Type: "reaction_added", ChannelType: "im", User: "U1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.accept(&tt.ev))
		})
	}
}

func TestBridge_RunsTurnInThread(t *testing.T) {
	api := newFakeAPI()
	api.users["U1"] = &User{ID: "U1", Name: "alice"}
	api.replies = []Message{{TS: "1.0", User: "U1", Text: "<@UBOT> add Inception"}}

	bus := events.New()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	runner := &fakeRunner{}
	b, status := newTestBridge(api, runner, 0)
	b.bus = bus

	b.HandleEvent(context.Background(), &MessageEvent{
		Type: "message", ChannelType: "channel", Channel: "C1", Team: "T1",
		User: "U1", Text: "<@UBOT> add Inception", TS: "1.0",
	})
	b.Wait()
	status.Close()

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "C1", call.turn.ChannelID)
	assert.Equal(t, "1.0", call.turn.ThreadTS)
	assert.Equal(t, "T1", call.turn.TeamID)
	assert.Equal(t, "@<Kyle> add Inception", call.msg.Text)
	assert.Equal(t, "alice", call.msg.Author.Username)

	got := api.snapshot()
	require.Len(t, got.posts, 1, "runner sent nothing, so the bridge posts the fallback")
	assert.Equal(t, emptyFallback, got.posts[0].Text)
	assert.Equal(t, []string{""}, got.statuses)

	ev := <-sub
	assert.Equal(t, events.KindMessageReceived, ev.Kind)
}

func TestBridge_ReplyThreadFromThreadTS(t *testing.T) {
	api := newFakeAPI()
	runner := &fakeRunner{}
	b, status := newTestBridge(api, runner, 0)
	defer status.Close()

	b.HandleEvent(context.Background(), &MessageEvent{
		Type: "message", ChannelType: "im", Channel: "D1", User: "U1",
		Text: "follow up", TS: "2.5", ThreadTS: "2.0",
	})
	b.Wait()

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "2.0", runner.calls[0].turn.ThreadTS)
}

func TestBridge_RunnerErrorAndPanicStillCleanUp(t *testing.T) {
	for name, fn := range map[string]func(context.Context, *ConversationContext, *MessageWithContext) error{
		"error": func(context.Context, *ConversationContext, *MessageWithContext) error { return errors.New("boom") },
		"panic": func(context.Context, *ConversationContext, *MessageWithContext) error { panic("boom") },
	} {
		t.Run(name, func(t *testing.T) {
			api := newFakeAPI()
			b, status := newTestBridge(api, &fakeRunner{fn: fn}, 0)

			b.HandleEvent(context.Background(), &MessageEvent{Type: "message", ChannelType: "im", Channel: "D1", User: "U1", Text: "x", TS: "1"})
			b.Wait()
			status.Close()

			got := api.snapshot()
			assert.Len(t, got.posts, 1)
			assert.Equal(t, []string{""}, got.statuses)
		})
	}
}

func TestBridge_RunnerStreamsReply(t *testing.T) {
	api := newFakeAPI()
	var streamer *Streamer
	runner := &fakeRunner{fn: func(ctx context.Context, turn *ConversationContext, _ *MessageWithContext) error {
		if err := streamer.Append(ctx, turn, "Added!"); err != nil {
			return err
		}
		return streamer.Stop(ctx, turn)
	}}
	b, status := newTestBridge(api, runner, 0)
	streamer = b.streamer

	b.HandleEvent(context.Background(), &MessageEvent{Type: "message", ChannelType: "im", Channel: "D1", User: "U1", Text: "x", TS: "1"})
	b.Wait()
	status.Close()

	got := api.snapshot()
	assert.Len(t, got.stops, 1)
	assert.Empty(t, got.posts, "bridge cleanup must not send a second reply")
}

func TestBridge_RateLimit(t *testing.T) {
	api := newFakeAPI()
	runner := &fakeRunner{}
	b, status := newTestBridge(api, runner, 2)
	defer status.Close()

	for range 3 {
		b.HandleEvent(context.Background(), &MessageEvent{Type: "message", ChannelType: "im", Channel: "D1", User: "U1", Text: "x", TS: "1"})
	}
	b.HandleEvent(context.Background(), &MessageEvent{Type: "message", ChannelType: "im", Channel: "D2", User: "U2", Text: "y", TS: "2"})
	b.Wait()

	assert.Len(t, runner.calls, 3)
}
