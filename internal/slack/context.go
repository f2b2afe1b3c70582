package slack

import (
	"strings"
	"sync"
)

// StreamState is the lifecycle of a turn's reply.
type StreamState int

// Reply lifecycle. Transitions only move forward.
const (
	StreamIdle StreamState = iota
	StreamStarted
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStarted:
		return "started"
	case StreamStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConversationContext is the per-turn state shared by the agent loop,
// the tools and the stream controller. It is created for one inbound
// message, passed by pointer, and discarded when the turn ends.
type ConversationContext struct {
	ThreadTS  string
	ChannelID string
	TeamID    string
	UserID    string

	// streamMu serializes stream operations; mu guards the fields.
	streamMu sync.Mutex
	mu       sync.Mutex
	state    StreamState
	streamTS string
	pending  strings.Builder
	blocks   []Block
}

// NewConversationContext creates the context for one turn.
func NewConversationContext(channelID, threadTS, teamID, userID string) *ConversationContext {
	return &ConversationContext{
		ThreadTS:  threadTS,
		ChannelID: channelID,
		TeamID:    teamID,
		UserID:    userID,
	}
}

// Enqueue appends blocks to be delivered with the final reply.
func (c *ConversationContext) Enqueue(blocks ...Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, blocks...)
}

// Blocks returns a snapshot of the queued blocks in insertion order.
func (c *ConversationContext) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// State returns the reply's lifecycle state.
func (c *ConversationContext) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StreamTS returns the open stream's ts, or "".
func (c *ConversationContext) StreamTS() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamTS
}

// PendingText returns text that could not be streamed and will be sent
// with the final reply.
func (c *ConversationContext) PendingText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.String()
}
