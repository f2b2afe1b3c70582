// Package history persists the tool calls Kyle makes on behalf of each
// Slack thread. The record serves two readers: the agent loop, which
// replays prior calls into the prompt so a follow-up turn knows what was
// already done, and the webhook notifier, which finds who asked for a
// movie or series once it has downloaded.
//
// Rows are append-only. A conversation is created lazily the first time
// a tool runs in a thread and is keyed by (thread_ts, channel_id).
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Drivers accepted by Open.
const (
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// MediaKind distinguishes movie references from series references.
type MediaKind string

// Media kinds.
const (
	MediaMovie  MediaKind = "movie"
	MediaSeries MediaKind = "series"
)

// Action is what a tool did with a media item.
type Action string

// Actions recorded against media references.
const (
	ActionSearch Action = "search"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionQuery  Action = "query"
)

// Conversation is one Slack thread that has had at least one tool call.
type Conversation struct {
	ID            string    `json:"id"`
	ThreadTS      string    `json:"thread_ts"`
	ChannelID     string    `json:"channel_id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	ToolCallCount int       `json:"tool_call_count"`
}

// ToolCall is one recorded tool invocation. Result is nil when the tool
// failed.
type ToolCall struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input"`
	Result         json.RawMessage `json:"result,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// MediaRef ties a tool call to a movie or series.
type MediaRef struct {
	Kind   MediaKind      `json:"media_type"`
	Action Action         `json:"action"`
	IDs    map[string]int `json:"ids"`
	Title  string         `json:"title"`
}

// Requester is a conversation in which someone added a media item.
type Requester struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	ThreadTS       string `json:"thread_ts"`
	ChannelID      string `json:"channel_id"`
	Title          string `json:"title"`
}

// ToolStat aggregates calls per tool.
type ToolStat struct {
	Tool     string `json:"tool"`
	Calls    int    `json:"calls"`
	Failures int    `json:"failures"`
}

// Store is an SQLite-backed tool-call history. All methods are safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open creates or opens the history database at path using driver
// (DriverCGO or DriverPure). The schema is created automatically.
func Open(driver, path string) (*Store, error) {
	dsn, err := dsnFor(driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db, now: time.Now, logger: slog.Default().With("component", "history")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return s, nil
}

func dsnFor(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", nil
	case DriverPure:
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger.With("component", "history")
	}
}

// DB exposes the connection so companion tables (token usage) can live
// in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		thread_ts  TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (thread_ts, channel_id)
	);
	CREATE TABLE IF NOT EXISTS tool_calls (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		tool_name       TEXT NOT NULL,
		input           TEXT NOT NULL,
		result          TEXT,
		timestamp       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id, timestamp);
	CREATE TABLE IF NOT EXISTS media_refs (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		tool_call_id    TEXT NOT NULL REFERENCES tool_calls(id),
		media_type      TEXT NOT NULL,
		ids             TEXT NOT NULL,
		title           TEXT NOT NULL,
		action          TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_refs_lookup ON media_refs(media_type, action);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// GetOrCreateConversation returns the id of the conversation for
// (threadTS, channelID), creating it if needed. Concurrent first calls
// for the same thread all return the same id.
func (s *Store) GetOrCreateConversation(ctx context.Context, threadTS, channelID, userID string) (string, error) {
	id, err := newID()
	if err != nil {
		return "", fmt.Errorf("generate conversation ID: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, thread_ts, channel_id, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (thread_ts, channel_id) DO NOTHING`,
		id, threadTS, channelID, userID, formatTime(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE thread_ts = ? AND channel_id = ?`,
		threadTS, channelID,
	).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("read conversation: %w", err)
	}
	return existing, nil
}

// Record appends a tool call to a conversation, with an optional media
// reference. A nil result records a failed call. An add reference
// without identifiers could never match FindRequesters, so it is logged
// and dropped while the call itself is still recorded.
func (s *Store) Record(ctx context.Context, conversationID, toolName string, input, result any, ref *MediaRef) error {
	if ref != nil && ref.Action == ActionAdd && len(ref.IDs) == 0 {
		s.logger.Warn("dropping add reference without identifiers",
			"conversation_id", conversationID, "tool", toolName, "title", ref.Title)
		ref = nil
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal tool input: %w", err)
	}
	var resultJSON sql.NullString
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal tool result: %w", err)
		}
		resultJSON = sql.NullString{String: string(raw), Valid: true}
	}

	callID, err := newID()
	if err != nil {
		return fmt.Errorf("generate tool call ID: %w", err)
	}
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tool_calls (id, conversation_id, tool_name, input, result, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		callID, conversationID, toolName, string(inputJSON), resultJSON, now,
	); err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}

	if ref != nil {
		idsJSON, err := json.Marshal(ref.IDs)
		if err != nil {
			return fmt.Errorf("marshal media ids: %w", err)
		}
		refID, err := newID()
		if err != nil {
			return fmt.Errorf("generate media ref ID: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO media_refs (id, conversation_id, tool_call_id, media_type, ids, title, action, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			refID, conversationID, callID, string(ref.Kind), string(idsJSON), ref.Title, string(ref.Action), now,
		); err != nil {
			return fmt.Errorf("insert media ref: %w", err)
		}
	}

	return tx.Commit()
}

// History returns the tool calls recorded for a thread, oldest first.
// A thread without a conversation has no history.
func (s *Store) History(ctx context.Context, threadTS, channelID string) ([]ToolCall, error) {
	var convID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE thread_ts = ? AND channel_id = ?`,
		threadTS, channelID,
	).Scan(&convID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return s.ToolCallsForConversation(ctx, convID)
}

// ToolCallsForConversation returns a conversation's tool calls in
// timestamp order, ties broken by insertion order.
func (s *Store) ToolCallsForConversation(ctx context.Context, conversationID string) ([]ToolCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, tool_name, input, result, timestamp
		 FROM tool_calls
		 WHERE conversation_id = ?
		 ORDER BY timestamp ASC, rowid ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var (
			tc     ToolCall
			input  string
			result sql.NullString
			ts     string
		)
		if err := rows.Scan(&tc.ID, &tc.ConversationID, &tc.ToolName, &input, &result, &ts); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.Input = json.RawMessage(input)
		if result.Valid {
			tc.Result = json.RawMessage(result.String)
		}
		tc.Timestamp = parseTime(ts)
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

// FindRequesters returns the conversations in which a media item of
// kind was added and whose identifiers share at least one key/value
// pair with ids. Each conversation appears once, earliest add first.
func (s *Store) FindRequesters(ctx context.Context, kind MediaKind, ids map[string]int) ([]Requester, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.ids, m.title, c.id, c.user_id, c.thread_ts, c.channel_id
		 FROM media_refs m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.media_type = ? AND m.action = ?
		 ORDER BY m.created_at ASC, m.rowid ASC`,
		string(kind), string(ActionAdd),
	)
	if err != nil {
		return nil, fmt.Errorf("query media refs: %w", err)
	}
	defer rows.Close()

	var (
		out  []Requester
		seen = make(map[string]bool)
	)
	for rows.Next() {
		var (
			idsJSON string
			r       Requester
		)
		if err := rows.Scan(&idsJSON, &r.Title, &r.ConversationID, &r.UserID, &r.ThreadTS, &r.ChannelID); err != nil {
			return nil, fmt.Errorf("scan media ref: %w", err)
		}
		var refIDs map[string]int
		if err := json.Unmarshal([]byte(idsJSON), &refIDs); err != nil {
			continue
		}
		if !sharesIdentifier(refIDs, ids) || seen[r.ConversationID] {
			continue
		}
		seen[r.ConversationID] = true
		out = append(out, r)
	}
	return out, rows.Err()
}

func sharesIdentifier(a, b map[string]int) bool {
	for k, v := range b {
		if got, ok := a[k]; ok && got == v {
			return true
		}
	}
	return false
}

// ListConversations returns the most recently created conversations.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.thread_ts, c.channel_id, c.user_id, c.created_at,
		        (SELECT COUNT(*) FROM tool_calls t WHERE t.conversation_id = c.id)
		 FROM conversations c
		 ORDER BY c.created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var (
			c  Conversation
			ts string
		)
		if err := rows.Scan(&c.ID, &c.ThreadTS, &c.ChannelID, &c.UserID, &ts, &c.ToolCallCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = parseTime(ts)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ToolCallStats returns call and failure counts per tool, busiest first.
func (s *Store) ToolCallStats(ctx context.Context) ([]ToolStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, COUNT(*), SUM(CASE WHEN result IS NULL THEN 1 ELSE 0 END)
		 FROM tool_calls
		 GROUP BY tool_name
		 ORDER BY COUNT(*) DESC, tool_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool stats: %w", err)
	}
	defer rows.Close()

	var stats []ToolStat
	for rows.Next() {
		var st ToolStat
		if err := rows.Scan(&st.Tool, &st.Calls, &st.Failures); err != nil {
			return nil, fmt.Errorf("scan tool stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
