// Package llm provides chat model clients. Each provider translates the
// provider-neutral Message and ToolDef types to its own wire format at
// the boundary.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. If callback is non-nil,
	// text tokens are delivered to it as they arrive, in order, on the
	// calling goroutine.
	ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
