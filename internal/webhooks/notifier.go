package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/kyle/internal/events"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/prompts"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/usage"
)

const (
	generateTimeout = 15 * time.Second
	postConcurrency = 4
)

// RequesterFinder finds the conversations that asked for a media item.
// *history.Store satisfies it.
type RequesterFinder interface {
	FindRequesters(ctx context.Context, kind history.MediaKind, ids map[string]int) ([]history.Requester, error)
}

// MessagePoster posts a Slack message. *slack.Client satisfies it.
type MessagePoster interface {
	PostMessage(ctx context.Context, p slack.PostMessageParams) (string, error)
}

// UsageRecorder persists token usage. *usage.Store satisfies it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Media describes a newly available movie or set of episodes.
type Media struct {
	Kind         history.MediaKind
	Title        string
	Year         int
	Quality      string
	ReleaseGroup string
	Episodes     []SonarrEpisode
}

// Describe renders the "Key: value" lines the notification prompt
// expects.
func (m Media) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\nTitle: %s\n", m.Kind, m.Title)
	if m.Year > 0 {
		fmt.Fprintf(&b, "Year: %d\n", m.Year)
	}
	if m.Quality != "" {
		fmt.Fprintf(&b, "Quality: %s\n", m.Quality)
	}
	if m.ReleaseGroup != "" {
		fmt.Fprintf(&b, "Release group: %s\n", m.ReleaseGroup)
	}
	for _, ep := range m.Episodes {
		fmt.Fprintf(&b, "Episode: %s", episodeCode(ep))
		if ep.Title != "" {
			fmt.Fprintf(&b, " %q", ep.Title)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Fallback is the fixed message used when generation fails.
func (m Media) Fallback() string {
	if len(m.Episodes) == 0 {
		if m.Year > 0 {
			return fmt.Sprintf("%s (%d) is now available in your library.", m.Title, m.Year)
		}
		return fmt.Sprintf("%s is now available in your library.", m.Title)
	}
	codes := make([]string, 0, len(m.Episodes))
	for _, ep := range m.Episodes {
		codes = append(codes, episodeCode(ep))
	}
	verb := "is"
	if len(codes) > 1 {
		verb = "are"
	}
	return fmt.Sprintf("%s %s %s now available in your library.", m.Title, strings.Join(codes, ", "), verb)
}

func episodeCode(ep SonarrEpisode) string {
	return fmt.Sprintf("S%02dE%02d", ep.SeasonNumber, ep.EpisodeNumber)
}

// NotifierConfig holds the dependencies for a Notifier.
type NotifierConfig struct {
	BotName  string
	Model    string
	Provider string

	Requesters RequesterFinder
	Poster     MessagePoster
	LLM        llm.Client    // optional; nil always uses the fallback text
	Usage      UsageRecorder // optional
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Notifier tells requesters that their media is available.
type Notifier struct {
	cfg    NotifierConfig
	logger *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{cfg: cfg, logger: logger.With("component", "webhooks")}
}

// Notify posts one message about m into every thread that added an
// item matching ids. It returns how many threads were notified.
// Individual post failures are logged and skipped.
func (n *Notifier) Notify(ctx context.Context, m Media, ids map[string]int) (int, error) {
	requesters, err := n.cfg.Requesters.FindRequesters(ctx, m.Kind, ids)
	if err != nil {
		return 0, fmt.Errorf("find requesters: %w", err)
	}
	if len(requesters) == 0 {
		n.logger.Debug("no requesters for media", "media_type", m.Kind, "title", m.Title, "ids", ids)
		return 0, nil
	}

	text := slack.MarkdownToMrkdwn(n.generate(ctx, m))
	n.logger.Info("notifying requesters", "title", m.Title, "requesters", len(requesters))

	sent := make([]bool, len(requesters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(postConcurrency)
	for i, r := range requesters {
		g.Go(func() error {
			_, err := n.cfg.Poster.PostMessage(gctx, slack.PostMessageParams{
				Channel:  r.ChannelID,
				ThreadTS: r.ThreadTS,
				Text:     text,
			})
			if err != nil {
				n.logger.Warn("failed to send notification",
					"channel_id", r.ChannelID, "thread_ts", r.ThreadTS, "user_id", r.UserID, "error", err)
				return nil
			}
			sent[i] = true
			return nil
		})
	}
	_ = g.Wait()

	notified := 0
	for _, ok := range sent {
		if ok {
			notified++
		}
	}
	n.cfg.Bus.Emit(events.SourceWebhook, events.KindMediaAvailable, map[string]any{
		"media_type": string(m.Kind),
		"title":      m.Title,
		"requesters": len(requesters),
		"notified":   notified,
	})
	return notified, nil
}

// generate asks the model for the notification text, falling back to
// a fixed sentence on any failure.
func (n *Notifier) generate(ctx context.Context, m Media) string {
	if n.cfg.LLM == nil {
		return m.Fallback()
	}
	gctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	prompt := prompts.AvailabilityNotification(n.cfg.BotName, m.Describe())
	resp, err := n.cfg.LLM.Chat(gctx, n.cfg.Model, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		n.logger.Warn("notification generation failed, using fallback", "title", m.Title, "error", err)
		return m.Fallback()
	}
	if n.cfg.Usage != nil {
		rec := usage.Record{
			Model:        n.cfg.Model,
			Provider:     n.cfg.Provider,
			Role:         usage.RoleNotification,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
		if err := n.cfg.Usage.Record(ctx, rec); err != nil {
			n.logger.Warn("failed to record notification usage", "error", err)
		}
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return m.Fallback()
	}
	return text
}
