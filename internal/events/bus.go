// Package events is Kyle's in-process event bus. The agent loop, the
// Slack intake, connwatch and the webhook notifier publish; the MQTT
// mirror subscribes. Publishing on a nil *Bus is a no-op, so components
// built without a bus need no guards.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the agent loop.
	SourceAgent = "agent"
	// SourceSlack identifies events from the Slack intake.
	SourceSlack = "slack"
	// SourceWebhook identifies events from Radarr/Sonarr webhooks.
	SourceWebhook = "webhook"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of an agent turn.
	// Data: thread_ts, channel_id, user_id.
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of a model call.
	// Data: thread_ts, step, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a model call.
	// Data: thread_ts, step, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: thread_ts, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: thread_ts, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete signals the end of an agent turn.
	// Data: thread_ts, steps, tool_calls, exhausted, failed, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindMessageReceived signals an accepted inbound Slack message.
	// Data: channel_id, thread_ts, user_id, message_len.
	KindMessageReceived = "message_received"
	// KindConnected signals an established connection to Slack or a
	// watched upstream service.
	// Data: service, attempt.
	KindConnected = "connected"
	// KindDisconnected signals a lost connection.
	// Data: service, reason or error.
	KindDisconnected = "disconnected"

	// KindMediaAvailable signals a downloaded movie or episode.
	// Data: media_type, title, requesters, notified.
	KindMediaAvailable = "media_available"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event and the
// miss is counted in [Bus.Dropped].
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event // receive side -> send side

	dropped atomic.Uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Emit stamps and publishes an event. A nil bus ignores it.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Publish delivers e to every subscriber with room for it. A nil bus
// ignores it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with a buffer of bufSize events.
// Pair every call with [Bus.Unsubscribe].
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe closes ch and stops delivery to it. Unknown or already
// removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full, summed over all subscribers.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
