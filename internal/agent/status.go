package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/prompts"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/usage"
)

// statusTimeout bounds status generation so a slow model never holds
// up the reply.
const statusTimeout = 3 * time.Second

// statusPattern accepts "is cooking..." up to three words in total.
var statusPattern = regexp.MustCompile(`^is [A-Za-z'-]+ing(?: [A-Za-z'-]+)?\.\.\.$`)

// StatusGenerator picks the thread status shown while a turn runs.
type StatusGenerator interface {
	Generate(ctx context.Context, turn *slack.ConversationContext, message string) string
}

// StaticStatus always says "is thinking...".
type StaticStatus struct{}

// Generate implements StatusGenerator.
func (StaticStatus) Generate(context.Context, *slack.ConversationContext, string) string {
	return prompts.StaticStatus
}

// LLMStatus asks a small model for a playful "is {verb}ing..." line and
// falls back to a random canned one when the model fails or strays from
// the format.
type LLMStatus struct {
	client   llm.Client
	model    string
	provider string
	usage    UsageRecorder
	logger   *slog.Logger
	pick     func(n int) int
}

// NewLLMStatus creates a generated status source. usage may be nil.
func NewLLMStatus(client llm.Client, model, provider string, usage UsageRecorder, logger *slog.Logger) *LLMStatus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMStatus{
		client:   client,
		model:    model,
		provider: provider,
		usage:    usage,
		logger:   logger.With("component", "status"),
		pick:     rand.IntN,
	}
}

// Generate implements StatusGenerator.
func (g *LLMStatus) Generate(ctx context.Context, turn *slack.ConversationContext, message string) string {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	resp, err := g.client.Chat(ctx, g.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.StatusPrompt(message)},
	}, nil)
	if err != nil {
		g.logger.Debug("status generation failed", "thread_ts", turn.ThreadTS, "error", err)
		return g.fallback()
	}
	recordUsage(ctx, g.usage, g.logger, turn, resp, g.model, g.provider, usage.RoleStatus)

	status := strings.Trim(strings.TrimSpace(resp.Message.Content), `"'`)
	if !statusPattern.MatchString(status) {
		g.logger.Debug("generated status rejected", "thread_ts", turn.ThreadTS, "status", status)
		return g.fallback()
	}
	return status
}

func (g *LLMStatus) fallback() string {
	return prompts.StatusFallbacks[g.pick(len(prompts.StatusFallbacks))]
}
