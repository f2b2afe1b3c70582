// Package tools defines the capability set exposed to the model. A tool
// is a value: a name, a JSON Schema for its arguments, optional status
// and progress text, and a handler. The registry validates arguments
// against the schema before dispatch and converts every outcome,
// including handler errors and panics, into a Result the model can read.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/nugget/kyle/internal/events"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/slack"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler executes a tool call. The returned value becomes the OK side
// of the Result; a non-nil error becomes its Error side.
type Handler func(ctx context.Context, call *Call) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// Status is shown as the thread status while the tool runs,
	// e.g. "is searching for movies...".
	Status string `json:"-"`
	// Progress is appended to the streamed reply when the model
	// invokes the tool, e.g. ":radarr: _Adding movie_".
	Progress string `json:"-"`

	Handler Handler `json:"-"`
}

// Call is one invocation handed to a Handler.
type Call struct {
	Name string
	Args Args
	// Turn is the conversation the call belongs to. Handlers queue
	// rich blocks on it.
	Turn *slack.ConversationContext

	ref *history.MediaRef
}

// Reference attaches a media reference to the call's history record.
// It is only persisted if the call succeeds.
func (c *Call) Reference(ref history.MediaRef) {
	c.ref = &ref
}

// Recorder persists tool calls. *history.Store satisfies it.
type Recorder interface {
	GetOrCreateConversation(ctx context.Context, threadTS, channelID, userID string) (string, error)
	Record(ctx context.Context, conversationID, toolName string, input, result any, ref *history.MediaRef) error
}

// StatusNotifier shows a transient status line in the thread.
// *slack.StatusNotifier satisfies it.
type StatusNotifier interface {
	SetStatus(turn *slack.ConversationContext, text string)
}

// Registry holds available tools.
type Registry struct {
	tools    map[string]*Tool
	schemas  map[string]*jsonschema.Schema
	invalid  map[string]error
	recorder Recorder
	status   StatusNotifier
	bus      *events.Bus
	logger   *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*jsonschema.Schema),
		invalid: make(map[string]error),
		logger:  logger.With("component", "tools"),
	}
}

// SetRecorder enables tool-call history.
func (r *Registry) SetRecorder(rec Recorder) { r.recorder = rec }

// SetStatusNotifier enables per-tool thread status updates.
func (r *Registry) SetStatusNotifier(n StatusNotifier) { r.status = n }

// SetEventBus enables tool_call/tool_done events.
func (r *Registry) SetEventBus(bus *events.Bus) { r.bus = bus }

// Register adds a tool to the registry, replacing any tool of the same
// name. The parameter schema is compiled here; a tool whose schema does
// not compile stays listed but every call to it fails.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("tool replaced", "tool", t.Name)
	}
	r.tools[t.Name] = t
	delete(r.invalid, t.Name)
	sch, err := compileSchema(t.Name, t.Parameters)
	if err != nil {
		r.logger.Error("tool schema rejected", "tool", t.Name, "error", err)
		r.invalid[t.Name] = err
		delete(r.schemas, t.Name)
		return
	}
	r.schemas[t.Name] = sch
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool catalog for the model, sorted by name.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute validates and runs a tool. It never returns an error: unknown
// tools, invalid arguments, handler failures and panics all become
// Result.Error. The call is recorded in history when a recorder is set.
func (r *Registry) Execute(ctx context.Context, turn *slack.ConversationContext, name string, args map[string]any) Result {
	tool := r.tools[name]
	if tool == nil {
		err := &ErrToolUnavailable{ToolName: name}
		r.logger.Warn("model requested unknown tool", "tool", name)
		return Failure(err)
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := r.invalid[name]; err != nil {
		return Failure(fmt.Errorf("tool %s has an invalid schema: %w", name, err))
	}
	if err := validateArgs(r.schemas[name], args); err != nil {
		r.logger.Debug("tool arguments rejected", "tool", name, "error", err)
		return Failure(fmt.Errorf("invalid arguments: %w", err))
	}

	if r.status != nil && turn != nil && tool.Status != "" {
		r.status.SetStatus(turn, tool.Status)
	}

	threadTS := ""
	if turn != nil {
		threadTS = turn.ThreadTS
	}
	r.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"thread_ts": threadTS,
		"tool":      name,
	})

	call := &Call{Name: name, Args: Args(args), Turn: turn}
	start := time.Now()
	value, err := r.invoke(ctx, tool, call)
	elapsed := time.Since(start)

	var res Result
	if err != nil {
		res = Failure(err)
		r.logger.Warn("tool failed", "tool", name, "thread_ts", threadTS, "elapsed", elapsed, "error", err)
	} else {
		res = Success(value)
		r.logger.Debug("tool succeeded", "tool", name, "thread_ts", threadTS, "elapsed", elapsed)
	}

	r.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"thread_ts":   threadTS,
		"tool":        name,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})

	r.record(ctx, turn, call, res)
	return res
}

func (r *Registry) invoke(ctx context.Context, tool *Tool, call *Call) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", tool.Name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("tool %s crashed: %v", tool.Name, p)
		}
	}()
	return tool.Handler(ctx, call)
}

// record persists the call. Failures are logged and swallowed; a lost
// history row must never fail the user's turn.
func (r *Registry) record(ctx context.Context, turn *slack.ConversationContext, call *Call, res Result) {
	if r.recorder == nil || turn == nil {
		return
	}
	convID, err := r.recorder.GetOrCreateConversation(ctx, turn.ThreadTS, turn.ChannelID, turn.UserID)
	if err != nil {
		r.logger.Warn("failed to resolve conversation for tool history",
			"tool", call.Name, "thread_ts", turn.ThreadTS, "channel_id", turn.ChannelID, "error", err)
		return
	}

	var result any
	ref := call.ref
	if res.Failed() {
		ref = nil
	} else {
		result = res.OK
	}
	if err := r.recorder.Record(ctx, convID, call.Name, map[string]any(call.Args), result, ref); err != nil {
		r.logger.Warn("failed to record tool call",
			"tool", call.Name, "conversation_id", convID, "error", err)
	}
}
