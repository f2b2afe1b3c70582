// Package slack is Kyle's Slack surface: a Web API client, the Socket
// Mode event intake, the thread context builder, the streaming reply
// controller with its block queue, and the assistant status notifier.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nugget/kyle/internal/httpkit"
)

const defaultBaseURL = "https://slack.com/api"

// levelTrace matches config.LevelTrace for wire payloads.
const levelTrace = slog.Level(-8)

// APIError is a Slack Web API response with ok=false or a non-2xx status.
type APIError struct {
	Method     string
	StatusCode int
	Code       string // Slack's "error" field, e.g. "channel_not_found"
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("slack %s: HTTP %d", e.Method, e.StatusCode)
}

// Client calls the Slack Web API with a bot token.
type Client struct {
	baseURL    string
	botToken   string
	appToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Web API client. appToken is only needed for
// Socket Mode. An empty baseURL uses https://slack.com/api.
func NewClient(baseURL, botToken, appToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   botToken,
		appToken:   appToken,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("component", "slack"),
	}
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call invokes a Web API method. GET methods carry query parameters;
// POST methods carry a JSON body. out receives the full response.
func (c *Client) call(ctx context.Context, method, token string, query url.Values, body any, out any) error {
	u := c.baseURL + "/" + method
	httpMethod := http.MethodGet
	var reader io.Reader

	if body != nil {
		httpMethod = http.MethodPost
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", method, err)
		}
		c.logger.Log(ctx, levelTrace, "slack request", "method", method, "json", string(data))
		reader = bytes.NewReader(data)
	} else if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, u, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || resp.StatusCode != http.StatusOK || !env.OK {
		apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, Code: env.Error}
		c.logger.Debug("slack API error", "method", method, "status", resp.StatusCode, "error", env.Error)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
	}
	return nil
}

// PostMessageParams are the chat.postMessage fields Kyle uses.
type PostMessageParams struct {
	Channel      string  `json:"channel"`
	ThreadTS     string  `json:"thread_ts,omitempty"`
	Text         string  `json:"text,omitempty"`
	MarkdownText string  `json:"markdown_text,omitempty"`
	Blocks       []Block `json:"blocks,omitempty"`
}

// PostMessage posts a message and returns its ts.
func (c *Client) PostMessage(ctx context.Context, p PostMessageParams) (string, error) {
	var out struct {
		TS string `json:"ts"`
	}
	if err := c.call(ctx, "chat.postMessage", c.botToken, nil, p, &out); err != nil {
		return "", err
	}
	return out.TS, nil
}

// StartStreamParams opens a streamed reply.
type StartStreamParams struct {
	Channel         string `json:"channel"`
	ThreadTS        string `json:"thread_ts,omitempty"`
	MarkdownText    string `json:"markdown_text,omitempty"`
	RecipientTeamID string `json:"recipient_team_id,omitempty"`
	RecipientUserID string `json:"recipient_user_id,omitempty"`
}

// StartStream opens a streamed reply and returns its ts.
func (c *Client) StartStream(ctx context.Context, p StartStreamParams) (string, error) {
	var out struct {
		TS string `json:"ts"`
	}
	if err := c.call(ctx, "chat.startStream", c.botToken, nil, p, &out); err != nil {
		return "", err
	}
	if out.TS == "" {
		return "", &APIError{Method: "chat.startStream", StatusCode: http.StatusOK, Code: "missing_ts"}
	}
	return out.TS, nil
}

// AppendStream adds markdown text to an open stream.
func (c *Client) AppendStream(ctx context.Context, channel, ts, markdown string) error {
	return c.call(ctx, "chat.appendStream", c.botToken, nil, map[string]any{
		"channel":       channel,
		"ts":            ts,
		"markdown_text": markdown,
	}, nil)
}

// StopStream closes a stream with optional trailing text and blocks.
func (c *Client) StopStream(ctx context.Context, channel, ts, markdown string, blocks []Block) error {
	body := map[string]any{"channel": channel, "ts": ts}
	if markdown != "" {
		body["markdown_text"] = markdown
	}
	if len(blocks) > 0 {
		body["blocks"] = blocks
	}
	return c.call(ctx, "chat.stopStream", c.botToken, nil, body, nil)
}

// SetThreadStatus sets (or with "" clears) the assistant thread status.
func (c *Client) SetThreadStatus(ctx context.Context, channel, threadTS, status string) error {
	return c.call(ctx, "assistant.threads.setStatus", c.botToken, nil, map[string]any{
		"channel_id": channel,
		"thread_ts":  threadTS,
		"status":     status,
	}, nil)
}

// UserInfo fetches a user profile.
func (c *Client) UserInfo(ctx context.Context, userID string) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.call(ctx, "users.info", c.botToken, url.Values{"user": {userID}}, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// repliesPageSize and maxRepliesPages bound how much of a long thread
// is walked to find its tail.
const (
	repliesPageSize = 200
	maxRepliesPages = 25
)

// Replies returns the last limit messages of a thread, oldest first.
// conversations.replies pages from the parent forward, so the whole
// thread is walked and only the tail is kept.
func (c *Client) Replies(ctx context.Context, channel, threadTS string, limit int) ([]Message, error) {
	var tail []Message
	cursor := ""
	for page := 0; page < maxRepliesPages; page++ {
		var out struct {
			Messages         []Message `json:"messages"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		q := url.Values{
			"channel": {channel},
			"ts":      {threadTS},
			"limit":   {fmt.Sprint(repliesPageSize)},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		if err := c.call(ctx, "conversations.replies", c.botToken, q, nil, &out); err != nil {
			return nil, err
		}

		tail = append(tail, out.Messages...)
		if len(tail) > limit {
			tail = append([]Message(nil), tail[len(tail)-limit:]...)
		}

		cursor = out.ResponseMetadata.NextCursor
		if cursor == "" {
			return tail, nil
		}
	}
	c.logger.Warn("thread longer than the replies walk, history may be stale",
		"channel", channel, "thread_ts", threadTS, "pages", maxRepliesPages)
	return tail, nil
}

// OpenConnection asks for a Socket Mode websocket URL using the app
// token.
func (c *Client) OpenConnection(ctx context.Context) (string, error) {
	if c.appToken == "" {
		return "", fmt.Errorf("slack app token not configured")
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, "apps.connections.open", c.appToken, nil, map[string]any{}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// AuthTest verifies the bot token and returns the bot's user id.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	if err := c.call(ctx, "auth.test", c.botToken, nil, map[string]any{}, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}
