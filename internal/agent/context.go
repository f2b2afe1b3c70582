package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/slack"
)

// ContextProvider contributes an extra system message to a turn. An
// empty string contributes nothing.
type ContextProvider interface {
	GetContext(ctx context.Context, turn *slack.ConversationContext) (string, error)
}

// CompositeContextProvider combines multiple context providers.
// Each provider's output is joined with a blank line.
type CompositeContextProvider struct {
	providers []ContextProvider
	logger    *slog.Logger
}

// NewCompositeContextProvider creates a composite from multiple providers.
func NewCompositeContextProvider(logger *slog.Logger, providers ...ContextProvider) *CompositeContextProvider {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CompositeContextProvider{logger: logger}
	for _, p := range providers {
		c.Add(p)
	}
	return c
}

// Add appends a provider to the composite.
func (c *CompositeContextProvider) Add(provider ContextProvider) {
	if provider != nil {
		c.providers = append(c.providers, provider)
	}
}

// GetContext calls all providers and combines their output. A failing
// provider is logged and skipped.
func (c *CompositeContextProvider) GetContext(ctx context.Context, turn *slack.ConversationContext) (string, error) {
	var parts []string
	for _, p := range c.providers {
		content, err := p.GetContext(ctx, turn)
		if err != nil {
			c.logger.Warn("context provider failed",
				"thread_ts", turn.ThreadTS, "channel_id", turn.ChannelID, "error", err)
			continue
		}
		if content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// HistoryReader reads a thread's prior tool calls. *history.Store
// satisfies it.
type HistoryReader interface {
	History(ctx context.Context, threadTS, channelID string) ([]history.ToolCall, error)
}

// ToolHistoryProvider injects the thread's earlier tool calls so the
// model keeps continuity across turns.
type ToolHistoryProvider struct {
	store HistoryReader
}

// NewToolHistoryProvider creates a tool-call history context provider.
func NewToolHistoryProvider(store HistoryReader) *ToolHistoryProvider {
	return &ToolHistoryProvider{store: store}
}

// GetContext returns the formatted tool-call history for the turn's
// thread, or "" when there is none.
func (p *ToolHistoryProvider) GetContext(ctx context.Context, turn *slack.ConversationContext) (string, error) {
	records, err := p.store.History(ctx, turn.ThreadTS, turn.ChannelID)
	if err != nil {
		return "", err
	}
	return history.FormatForPrompt(records), nil
}
