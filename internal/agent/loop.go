// Package agent implements the core agent loop: one bounded
// conversation between the model and the tool catalog per inbound
// message, streamed back to the Slack thread as it is written.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nugget/kyle/internal/events"
	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/prompts"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/tools"
	"github.com/nugget/kyle/internal/usage"
)

// DefaultMaxSteps bounds the model/tool rounds of a turn.
const DefaultMaxSteps = 10

// stopTimeout bounds delivery of the final reply once the turn
// context is gone.
const stopTimeout = 10 * time.Second

// Streamer delivers the reply. *slack.Streamer satisfies it.
type Streamer interface {
	Append(ctx context.Context, turn *slack.ConversationContext, text string) error
	Stop(ctx context.Context, turn *slack.ConversationContext) error
}

// StatusSetter shows the thread status. *slack.StatusNotifier
// satisfies it.
type StatusSetter interface {
	SetStatus(turn *slack.ConversationContext, text string)
}

// UsageRecorder persists token usage. *usage.Store satisfies it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config holds the dependencies for a Loop.
type Config struct {
	BotName   string
	BotUserID string
	Model     string
	Provider  string // recorded with usage
	MaxSteps  int    // 0 = DefaultMaxSteps

	LLM      llm.Client
	Tools    *tools.Registry
	Streamer Streamer

	Context   ContextProvider // optional
	Status    StatusSetter    // optional
	StatusGen StatusGenerator // nil = StaticStatus
	Usage     UsageRecorder   // optional
	Bus       *events.Bus
	Logger    *slog.Logger

	// Now overrides the clock used for the system prompt date.
	Now func() time.Time
}

// Loop is the core agent execution loop. It is safe for concurrent
// turns; all per-turn state lives on the stack and the
// ConversationContext.
type Loop struct {
	botName   string
	botUserID string
	model     string
	provider  string
	maxSteps  int

	llm       llm.Client
	tools     *tools.Registry
	streamer  Streamer
	context   ContextProvider
	status    StatusSetter
	statusGen StatusGenerator
	usage     UsageRecorder
	bus       *events.Bus
	logger    *slog.Logger
	now       func() time.Time
}

// Result summarizes one turn.
type Result struct {
	Steps        int
	ToolCalls    int
	Exhausted    bool
	Nudged       bool
	InputTokens  int
	OutputTokens int
	// Err is the loop-level failure the user was apologized for.
	Err error
}

// NewLoop creates an agent loop.
func NewLoop(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	statusGen := cfg.StatusGen
	if statusGen == nil {
		statusGen = StaticStatus{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		botName:   cfg.BotName,
		botUserID: cfg.BotUserID,
		model:     cfg.Model,
		provider:  cfg.Provider,
		maxSteps:  maxSteps,
		llm:       cfg.LLM,
		tools:     cfg.Tools,
		streamer:  cfg.Streamer,
		context:   cfg.Context,
		status:    cfg.Status,
		statusGen: statusGen,
		usage:     cfg.Usage,
		bus:       cfg.Bus,
		logger:    logger.With("component", "agent"),
		now:       now,
	}
}

// Run executes a turn for the Slack bridge. The user has already been
// answered (or apologized to) when it returns; the error is only for
// the caller's log.
func (l *Loop) Run(ctx context.Context, turn *slack.ConversationContext, msg *slack.MessageWithContext) error {
	return l.Turn(ctx, turn, msg).Err
}

// Turn executes one conversation turn: it streams the model's answer,
// dispatches tool calls, and finishes the reply exactly once. Loop
// errors and panics are logged and replaced by a fixed apology; step
// budget exhaustion is not an error.
func (l *Loop) Turn(ctx context.Context, turn *slack.ConversationContext, msg *slack.MessageWithContext) *Result {
	res := &Result{}
	start := time.Now()
	log := l.logger.With("thread_ts", turn.ThreadTS, "channel_id", turn.ChannelID)

	l.bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{
		"thread_ts":  turn.ThreadTS,
		"channel_id": turn.ChannelID,
		"user_id":    turn.UserID,
	})

	stopStatus := l.startStatus(turn, msg.Text)

	out := &output{streamer: l.streamer, turn: turn, logger: log}

	defer func() {
		if p := recover(); p != nil {
			log.Error("agent loop panicked", "panic", p, "stack", string(debug.Stack()))
			res.Err = fmt.Errorf("agent loop panicked: %v", p)
		}
		l.finish(ctx, turn, out, res, start, log)
		stopStatus()
	}()

	res.Err = l.run(ctx, turn, msg, out, res, log)
	return res
}

// startStatus shows the static status at once. A generated status is
// produced on its own goroutine and replaces it only while the turn is
// still running. The returned func abandons generation and waits for
// the goroutine, so no status update can follow the caller's clear.
func (l *Loop) startStatus(turn *slack.ConversationContext, message string) (stop func()) {
	if l.status == nil {
		return func() {}
	}
	l.status.SetStatus(turn, prompts.StaticStatus)
	if _, static := l.statusGen.(StaticStatus); static {
		return func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		text := l.statusGen.Generate(ctx, turn, message)
		select {
		case <-quit:
		default:
			if text != "" && text != prompts.StaticStatus {
				l.status.SetStatus(turn, text)
			}
		}
	}()
	return func() {
		close(quit)
		cancel()
		<-done
	}
}

func (l *Loop) run(ctx context.Context, turn *slack.ConversationContext, msg *slack.MessageWithContext, out *output, res *Result, log *slog.Logger) error {
	messages, err := l.buildMessages(ctx, turn, msg, log)
	if err != nil {
		return err
	}
	defs := l.tools.Definitions()

	for step := 1; step <= l.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("turn cancelled before step %d: %w", step, err)
		}
		res.Steps = step

		l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"thread_ts": turn.ThreadTS,
			"step":      step,
			"model":     l.model,
		})

		streamed := false
		resp, err := l.llm.ChatStream(ctx, l.model, messages, defs, func(ev llm.StreamEvent) {
			if ev.Kind == llm.KindToken && ev.Token != "" {
				streamed = true
				out.write(ctx, ev.Token)
			}
		})
		if err != nil {
			return fmt.Errorf("llm call (step %d): %w", step, err)
		}

		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
		recordUsage(ctx, l.usage, log, turn, resp, l.model, l.provider, usage.RoleAgent)

		calls := resp.Message.ToolCalls
		l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
			"thread_ts":  turn.ThreadTS,
			"step":       step,
			"model":      l.model,
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
			"tool_calls": len(calls),
		})
		log.Debug("llm step complete",
			"step", step, "tool_calls", len(calls), "stop_reason", resp.StopReason,
			"tokens_in", resp.InputTokens, "tokens_out", resp.OutputTokens)

		// Non-streaming providers deliver the text only at the end.
		if !streamed && resp.Message.Content != "" {
			out.write(ctx, resp.Message.Content)
		}
		hasText := streamed || strings.TrimSpace(resp.Message.Content) != ""
		if hasText {
			out.answered = true
		}
		out.endSegment()

		if len(calls) == 0 {
			if !hasText && res.ToolCalls > 0 && !res.Nudged {
				log.Info("empty response after tool calls, nudging model", "step", step)
				res.Nudged = true
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
				continue
			}
			return nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})
		for _, call := range calls {
			res.ToolCalls++
			if t := l.tools.Get(call.Function.Name); t != nil && t.Progress != "" {
				out.segment(ctx, t.Progress)
			}
			result := l.tools.Execute(ctx, turn, call.Function.Name, call.Function.Arguments)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result.String(),
				ToolCallID: call.ID,
			})
		}
	}

	res.Exhausted = true
	return nil
}

// buildMessages assembles the opening conversation: system prompt,
// optional context, the thread history, then the user's message.
func (l *Loop) buildMessages(ctx context.Context, turn *slack.ConversationContext, msg *slack.MessageWithContext, log *slog.Logger) ([]llm.Message, error) {
	messages := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: prompts.SystemPrompt(l.botName, l.botUserID, msg.Author.Username, msg.Author.ID, l.maxSteps, l.now()),
	}}

	if l.context != nil {
		extra, err := l.context.GetContext(ctx, turn)
		if err != nil {
			log.Warn("failed to load turn context", "error", err)
		} else if extra != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: extra})
		}
	}

	thread := msg.History
	if thread == nil {
		thread = []slack.ContextMessage{}
	}
	historyJSON, err := json.Marshal(thread)
	if err != nil {
		return nil, fmt.Errorf("marshal thread history: %w", err)
	}
	messages = append(messages,
		llm.Message{Role: llm.RoleSystem, Content: prompts.ConversationHistoryMessage(string(historyJSON))},
		llm.Message{Role: llm.RoleUser, Content: msg.Text},
	)
	return messages, nil
}

// finish closes the reply exactly once, on a fresh context if the turn
// context is already done.
func (l *Loop) finish(ctx context.Context, turn *slack.ConversationContext, out *output, res *Result, start time.Time, log *slog.Logger) {
	stopCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
	}

	switch {
	case res.Err != nil:
		text := prompts.Apology
		if llm.IsRateLimited(res.Err) {
			text = prompts.RateLimited
		}
		log.Error("agent loop failed", "steps", res.Steps, "tool_calls", res.ToolCalls, "error", res.Err)
		out.segment(stopCtx, text)
	case res.Exhausted && !out.answered:
		log.Warn("step budget exhausted without an answer", "steps", res.Steps, "tool_calls", res.ToolCalls)
		out.segment(stopCtx, prompts.StepBudgetExhausted)
	}

	if err := l.streamer.Stop(stopCtx, turn); err != nil {
		log.Error("failed to deliver reply", "error", err)
	}

	elapsed := time.Since(start)
	l.bus.Emit(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"thread_ts":  turn.ThreadTS,
		"steps":      res.Steps,
		"tool_calls": res.ToolCalls,
		"exhausted":  res.Exhausted,
		"failed":     res.Err != nil,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	log.Info("turn complete",
		"steps", res.Steps,
		"tool_calls", res.ToolCalls,
		"exhausted", res.Exhausted,
		"tokens_in", res.InputTokens,
		"tokens_out", res.OutputTokens,
		"elapsed", elapsed,
	)
}

// output tracks what a turn has streamed so separate steps and
// progress lines land in separate paragraphs.
type output struct {
	streamer Streamer
	turn     *slack.ConversationContext
	logger   *slog.Logger

	appended bool // anything written
	answered bool // the model wrote text
	open     bool // a paragraph is in progress
}

func (o *output) write(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if !o.open && o.appended {
		text = "\n\n" + text
	}
	o.open = true
	o.appended = true
	if err := o.streamer.Append(ctx, o.turn, text); err != nil {
		o.logger.Debug("stream append failed, text kept for the final reply", "error", err)
	}
}

func (o *output) endSegment() { o.open = false }

// segment writes text as a paragraph of its own.
func (o *output) segment(ctx context.Context, text string) {
	o.endSegment()
	o.write(ctx, text)
	o.endSegment()
}

// recordUsage persists a model call's tokens. Failures are logged and
// swallowed.
func recordUsage(ctx context.Context, rec UsageRecorder, log *slog.Logger, turn *slack.ConversationContext, resp *llm.ChatResponse, model, provider, role string) {
	if rec == nil || resp == nil {
		return
	}
	r := usage.Record{
		Model:        model,
		Provider:     provider,
		Role:         role,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if turn != nil {
		r.ThreadTS = turn.ThreadTS
		r.ChannelID = turn.ChannelID
	}
	if err := rec.Record(ctx, r); err != nil {
		log.Warn("failed to record usage", "role", role, "error", err)
	}
}
