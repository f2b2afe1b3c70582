package slack

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// subtypeAssistantThread marks the synthetic message Slack inserts at
// the top of an assistant thread. It carries no user content.
const subtypeAssistantThread = "assistant_app_thread"

// emptyMessageText stands in for history messages with no text, such
// as file-only posts, so the model still sees the turn.
const emptyMessageText = "<empty message>"

// unknownAuthor is used when a history message has neither user nor
// bot attribution.
const unknownAuthor = "<unknown user>"

// userLookupConcurrency bounds parallel users.info calls per turn.
const userLookupConcurrency = 4

// mentionPattern matches <@U123> and <@U123|label> mention tokens.
var mentionPattern = regexp.MustCompile(`<@([^>|]+)(?:\|[^>]+)?>`)

// ThreadAPI is the subset of the Web API the context builder reads.
type ThreadAPI interface {
	Replies(ctx context.Context, channel, threadTS string, limit int) ([]Message, error)
	UserInfo(ctx context.Context, userID string) (*User, error)
}

// ContextBuilder turns an inbound event into a MessageWithContext by
// fetching the thread, resolving every author and mention to a display
// name, and normalizing message text.
type ContextBuilder struct {
	api       ThreadAPI
	botUserID string
	botName   string
	limit     int
	logger    *slog.Logger
}

// NewContextBuilder creates a builder. limit caps the number of thread
// messages fetched; zero or less means 20.
func NewContextBuilder(api ThreadAPI, botUserID, botName string, limit int, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 20
	}
	return &ContextBuilder{
		api:       api,
		botUserID: botUserID,
		botName:   botName,
		limit:     limit,
		logger:    logger.With("component", "slack_context"),
	}
}

// Build assembles the context for ev. It never fails: when the thread
// cannot be fetched the result holds only the new message with an
// empty history, and unresolvable users keep their raw id.
func (b *ContextBuilder) Build(ctx context.Context, channel, threadTS string, ev *MessageEvent) *MessageWithContext {
	msgs, err := b.api.Replies(ctx, channel, threadTS, b.limit)
	if err != nil {
		b.logger.Warn("failed to fetch thread history, continuing without it",
			"channel", channel, "thread_ts", threadTS, "error", err)
		names := map[string]string{}
		b.seedBot(names)
		return &MessageWithContext{
			Text:    rewriteMentions(ev.Text, names),
			Author:  Author{ID: ev.User, Username: nameOr(names, ev.User)},
			History: []ContextMessage{},
		}
	}

	kept := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Subtype == subtypeAssistantThread {
			continue
		}
		kept = append(kept, m)
	}

	ids := map[string]struct{}{}
	collect := func(userID, text string) {
		if userID != "" {
			ids[userID] = struct{}{}
		}
		for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
			ids[m[1]] = struct{}{}
		}
	}
	for _, m := range kept {
		if !b.isBot(m) {
			collect(m.User, m.Text)
		} else {
			collect("", m.Text)
		}
	}
	collect(ev.User, ev.Text)

	names := b.resolve(ctx, ids)

	history := make([]ContextMessage, 0, len(kept))
	for _, m := range kept {
		text := rewriteMentions(m.Text, names)
		if strings.TrimSpace(text) == "" {
			text = emptyMessageText
		}
		history = append(history, ContextMessage{
			Text:   text,
			Author: b.author(m, names),
		})
	}

	return &MessageWithContext{
		Text:    rewriteMentions(ev.Text, names),
		Author:  Author{ID: ev.User, Username: nameOr(names, ev.User)},
		History: history,
	}
}

func (b *ContextBuilder) isBot(m Message) bool {
	return (b.botUserID != "" && m.User == b.botUserID) || m.BotID != "" || m.BotProfile != nil
}

func (b *ContextBuilder) author(m Message, names map[string]string) Author {
	switch {
	case b.isBot(m):
		id := m.User
		if id == "" {
			id = b.botUserID
		}
		return Author{ID: id, Username: b.botName}
	case m.User != "":
		return Author{ID: m.User, Username: nameOr(names, m.User)}
	default:
		return Author{Username: unknownAuthor}
	}
}

func (b *ContextBuilder) seedBot(names map[string]string) {
	if b.botUserID != "" && b.botName != "" {
		names[b.botUserID] = b.botName
	}
}

// resolve looks up display names for ids concurrently. Failed lookups
// fall back to the id itself.
func (b *ContextBuilder) resolve(ctx context.Context, ids map[string]struct{}) map[string]string {
	names := make(map[string]string, len(ids)+1)
	b.seedBot(names)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userLookupConcurrency)
	for id := range ids {
		if _, ok := names[id]; ok {
			continue
		}
		g.Go(func() error {
			name := id
			u, err := b.api.UserInfo(gctx, id)
			if err != nil {
				b.logger.Debug("user lookup failed", "user_id", id, "error", err)
			} else if u != nil {
				name = u.DisplayName()
			}
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return names
}

// rewriteMentions replaces mention tokens with @<Name>. Text that has
// already been rewritten contains no tokens, so the rewrite is
// idempotent.
func rewriteMentions(text string, names map[string]string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := mentionPattern.FindStringSubmatch(tok)
		return "@<" + nameOr(names, m[1]) + ">"
	})
}

func nameOr(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}
