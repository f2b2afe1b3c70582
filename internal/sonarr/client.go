// Package sonarr provides a client and model tools for the Sonarr series
// manager's v3 API.
package sonarr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nugget/kyle/internal/httpkit"
)

// MonitorOptions are the values Sonarr accepts for addOptions.monitor.
var MonitorOptions = []string{"all", "future", "missing", "existing", "lastSeason", "none"}

// DefaultMonitor is used when the model does not pick a monitor option.
const DefaultMonitor = "all"

// Client is a Sonarr v3 API client.
type Client struct {
	api    *httpkit.Endpoint
	logger *slog.Logger
}

// NewClient creates a Sonarr client. A nil httpClient uses the httpkit
// default.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("X-Api-Key", apiKey)
	return &Client{
		api:    httpkit.NewEndpoint(strings.TrimRight(baseURL, "/")+"/api/v3", header, httpClient),
		logger: logger.With("component", "sonarr"),
	}
}

// Ping checks that Sonarr answers with a valid key.
func (c *Client) Ping(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodGet, "/system/status", nil, nil, nil)
}

// Series fetches a library series by its Sonarr id.
func (c *Client) Series(ctx context.Context, id int) (*Series, error) {
	var s Series
	if err := c.api.Do(ctx, http.MethodGet, "/series/"+strconv.Itoa(id), nil, nil, &s); err != nil {
		return nil, fmt.Errorf("get series %d: %w", id, err)
	}
	return &s, nil
}

// AllSeries lists the whole library.
func (c *Client) AllSeries(ctx context.Context) ([]Series, error) {
	var all []Series
	if err := c.api.Do(ctx, http.MethodGet, "/series", nil, nil, &all); err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return all, nil
}

// Lookup searches for series by term. Sonarr also accepts "tvdb:<id>".
func (c *Client) Lookup(ctx context.Context, term string) ([]Series, error) {
	var found []Series
	if err := c.api.Do(ctx, http.MethodGet, "/series/lookup", url.Values{"term": {term}}, nil, &found); err != nil {
		return nil, fmt.Errorf("lookup %q: %w", term, err)
	}
	return found, nil
}

// AddSeries adds a series by TVDB id using Sonarr's canonical metadata,
// the first quality profile and the first root folder, and searches for
// missing episodes right away.
func (c *Client) AddSeries(ctx context.Context, tvdbID int, monitor string) (*Series, error) {
	if monitor == "" {
		monitor = DefaultMonitor
	}
	found, err := c.Lookup(ctx, "tvdb:"+strconv.Itoa(tvdbID))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no series with TVDB ID %d", tvdbID)
	}
	canonical := found[0]

	var profiles []QualityProfile
	if err := c.api.Do(ctx, http.MethodGet, "/qualityprofile", nil, nil, &profiles); err != nil {
		return nil, fmt.Errorf("list quality profiles: %w", err)
	}
	var folders []RootFolder
	if err := c.api.Do(ctx, http.MethodGet, "/rootfolder", nil, nil, &folders); err != nil {
		return nil, fmt.Errorf("list root folders: %w", err)
	}
	if len(profiles) == 0 || len(folders) == 0 {
		return nil, errors.New("no quality profiles or root folders configured")
	}

	c.logger.Info("adding series",
		"tvdb_id", tvdbID, "title", canonical.Title, "year", canonical.Year,
		"monitor", monitor, "quality_profile", profiles[0].Name, "root_folder", folders[0].Path)

	body := map[string]any{
		"title":             canonical.Title,
		"year":              canonical.Year,
		"tvdbId":            tvdbID,
		"images":            canonical.Images,
		"seasons":           canonical.Seasons,
		"qualityProfileId":  profiles[0].ID,
		"languageProfileId": 1,
		"rootFolderPath":    folders[0].Path,
		"monitored":         true,
		"seasonFolder":      true,
		"addOptions": map[string]any{
			"monitor":                      monitor,
			"searchForMissingEpisodes":     true,
			"searchForCutoffUnmetEpisodes": false,
		},
	}
	var added Series
	if err := c.api.Do(ctx, http.MethodPost, "/series", nil, body, &added); err != nil {
		return nil, fmt.Errorf("add series %d: %w", tvdbID, err)
	}
	if added.Overview == "" {
		added.Overview = canonical.Overview
	}
	if len(added.Images) == 0 {
		added.Images = canonical.Images
	}
	return &added, nil
}

// DeleteSeries removes a series, optionally deleting its files.
func (c *Client) DeleteSeries(ctx context.Context, id int, deleteFiles bool) error {
	q := url.Values{"deleteFiles": {strconv.FormatBool(deleteFiles)}}
	if err := c.api.Do(ctx, http.MethodDelete, "/series/"+strconv.Itoa(id), q, nil, nil); err != nil {
		return fmt.Errorf("delete series %d: %w", id, err)
	}
	return nil
}

// Episodes lists every episode of a series.
func (c *Client) Episodes(ctx context.Context, seriesID int) ([]Episode, error) {
	var eps []Episode
	q := url.Values{"seriesId": {strconv.Itoa(seriesID)}}
	if err := c.api.Do(ctx, http.MethodGet, "/episode", q, nil, &eps); err != nil {
		return nil, fmt.Errorf("list episodes for series %d: %w", seriesID, err)
	}
	return eps, nil
}

// DeleteEpisodeFile removes one episode file from disk.
func (c *Client) DeleteEpisodeFile(ctx context.Context, id int) error {
	if err := c.api.Do(ctx, http.MethodDelete, "/episodefile/"+strconv.Itoa(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete episode file %d: %w", id, err)
	}
	return nil
}

// SetSeasonMonitored flips one season's monitored flag. The series is
// round-tripped as raw JSON so fields this package does not model
// survive the PUT.
func (c *Client) SetSeasonMonitored(ctx context.Context, seriesID, season int, monitored bool) error {
	path := "/series/" + strconv.Itoa(seriesID)
	var raw map[string]any
	if err := c.api.Do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return fmt.Errorf("get series %d: %w", seriesID, err)
	}
	seasons, _ := raw["seasons"].([]any)
	found := false
	for _, s := range seasons {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := m["seasonNumber"].(float64); ok && int(n) == season {
			m["monitored"] = monitored
			found = true
		}
	}
	if !found {
		return fmt.Errorf("season %d not found in series %d", season, seriesID)
	}
	if err := c.api.Do(ctx, http.MethodPut, path, nil, raw, nil); err != nil {
		return fmt.Errorf("update series %d: %w", seriesID, err)
	}
	return nil
}

// RemoveSeason deletes every downloaded file of a season and stops
// monitoring it. It returns how many files were deleted.
func (c *Client) RemoveSeason(ctx context.Context, seriesID, season int) (int, error) {
	eps, err := c.Episodes(ctx, seriesID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, ep := range eps {
		if ep.SeasonNumber != season || !ep.HasFile || ep.EpisodeFileID == 0 {
			continue
		}
		if err := c.DeleteEpisodeFile(ctx, ep.EpisodeFileID); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := c.SetSeasonMonitored(ctx, seriesID, season, false); err != nil {
		return deleted, err
	}
	c.logger.Info("season removed", "series_id", seriesID, "season", season, "files_deleted", deleted)
	return deleted, nil
}

// Queue returns the download queue with series and episodes attached.
func (c *Client) Queue(ctx context.Context) (*QueuePage, error) {
	var page QueuePage
	q := url.Values{"includeEpisode": {"true"}, "includeSeries": {"true"}}
	if err := c.api.Do(ctx, http.MethodGet, "/queue", q, nil, &page); err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return &page, nil
}

// Calendar lists episodes airing between start and end (ISO dates, both
// optional; Sonarr defaults to today and a short window).
func (c *Client) Calendar(ctx context.Context, start, end string) ([]Episode, error) {
	q := url.Values{"includeSeries": {"true"}}
	if start != "" {
		q.Set("start", start)
	}
	if end != "" {
		q.Set("end", end)
	}
	var eps []Episode
	if err := c.api.Do(ctx, http.MethodGet, "/calendar", q, nil, &eps); err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return eps, nil
}

// SearchEpisodes queues a search: specific episodes when episodeIDs is
// non-empty, otherwise every missing episode of seriesID.
func (c *Client) SearchEpisodes(ctx context.Context, seriesID int, episodeIDs []int) (*Command, error) {
	var body map[string]any
	switch {
	case len(episodeIDs) > 0:
		body = map[string]any{"name": "EpisodeSearch", "episodeIds": episodeIDs}
	case seriesID > 0:
		body = map[string]any{"name": "SeriesSearch", "seriesId": seriesID}
	default:
		return nil, errors.New("must provide either seriesId or episodeIds")
	}
	var cmd Command
	if err := c.api.Do(ctx, http.MethodPost, "/command", nil, body, &cmd); err != nil {
		return nil, fmt.Errorf("queue %s: %w", body["name"], err)
	}
	return &cmd, nil
}

// History returns one page of history records.
func (c *Client) History(ctx context.Context, page, pageSize int) (*HistoryPage, error) {
	q := url.Values{
		"page":           {strconv.Itoa(page)},
		"pageSize":       {strconv.Itoa(pageSize)},
		"includeSeries":  {"true"},
		"includeEpisode": {"true"},
	}
	var hp HistoryPage
	if err := c.api.Do(ctx, http.MethodGet, "/history", q, nil, &hp); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &hp, nil
}
