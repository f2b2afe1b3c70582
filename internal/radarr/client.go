// Package radarr provides a client and model tools for the Radarr movie
// manager's v3 API.
package radarr

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

// Client is a Radarr v3 API client.
type Client struct {
	api    *httpkit.Endpoint
	logger *slog.Logger
}

// NewClient creates a Radarr client. A nil httpClient uses the httpkit
// default.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("X-Api-Key", apiKey)
	return &Client{
		api:    httpkit.NewEndpoint(strings.TrimRight(baseURL, "/")+"/api/v3", header, httpClient),
		logger: logger.With("component", "radarr"),
	}
}

// Ping checks that Radarr answers with a valid key.
func (c *Client) Ping(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodGet, "/system/status", nil, nil, nil)
}

// Movie fetches a library movie by its Radarr id.
func (c *Client) Movie(ctx context.Context, id int) (*Movie, error) {
	var m Movie
	if err := c.api.Do(ctx, http.MethodGet, "/movie/"+strconv.Itoa(id), nil, nil, &m); err != nil {
		return nil, fmt.Errorf("get movie %d: %w", id, err)
	}
	return &m, nil
}

// Movies lists the whole library.
func (c *Client) Movies(ctx context.Context) ([]Movie, error) {
	var movies []Movie
	if err := c.api.Do(ctx, http.MethodGet, "/movie", nil, nil, &movies); err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	return movies, nil
}

// Lookup searches for movies by title. Results not in the library have
// a zero ID.
func (c *Client) Lookup(ctx context.Context, term string) ([]Movie, error) {
	var movies []Movie
	q := url.Values{"term": {term}}
	if err := c.api.Do(ctx, http.MethodGet, "/movie/lookup", q, nil, &movies); err != nil {
		return nil, fmt.Errorf("lookup %q: %w", term, err)
	}
	return movies, nil
}

// LookupTMDB returns Radarr's canonical metadata for a TMDB id.
func (c *Client) LookupTMDB(ctx context.Context, tmdbID int) (*Movie, error) {
	var m Movie
	q := url.Values{"tmdbId": {strconv.Itoa(tmdbID)}}
	if err := c.api.Do(ctx, http.MethodGet, "/movie/lookup/tmdb", q, nil, &m); err != nil {
		return nil, fmt.Errorf("lookup tmdb %d: %w", tmdbID, err)
	}
	return &m, nil
}

// AddMovie adds a movie by TMDB id using the canonical title and year,
// the first quality profile and the first root folder, monitored and
// with an immediate search.
func (c *Client) AddMovie(ctx context.Context, tmdbID int) (*Movie, error) {
	canonical, err := c.LookupTMDB(ctx, tmdbID)
	if err != nil {
		return nil, err
	}

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

	c.logger.Info("adding movie",
		"tmdb_id", tmdbID, "title", canonical.Title, "year", canonical.Year,
		"quality_profile", profiles[0].Name, "root_folder", folders[0].Path)

	body := map[string]any{
		"title":            canonical.Title,
		"year":             canonical.Year,
		"tmdbId":           tmdbID,
		"images":           canonical.Images,
		"qualityProfileId": profiles[0].ID,
		"rootFolderPath":   folders[0].Path,
		"path":             fmt.Sprintf("%s/%s (%d)", strings.TrimRight(folders[0].Path, "/"), canonical.Title, canonical.Year),
		"monitored":        true,
		"addOptions":       map[string]any{"searchForMovie": true},
	}
	var added Movie
	if err := c.api.Do(ctx, http.MethodPost, "/movie", nil, body, &added); err != nil {
		return nil, fmt.Errorf("add movie %d: %w", tmdbID, err)
	}
	if added.Overview == "" {
		added.Overview = canonical.Overview
	}
	if len(added.Images) == 0 {
		added.Images = canonical.Images
	}
	return &added, nil
}

// DeleteMovie removes a movie, optionally deleting its files.
func (c *Client) DeleteMovie(ctx context.Context, id int, deleteFiles bool) error {
	q := url.Values{"deleteFiles": {strconv.FormatBool(deleteFiles)}}
	if err := c.api.Do(ctx, http.MethodDelete, "/movie/"+strconv.Itoa(id), q, nil, nil); err != nil {
		return fmt.Errorf("delete movie %d: %w", id, err)
	}
	return nil
}

// Queue returns the download queue with movies attached.
func (c *Client) Queue(ctx context.Context) (*QueuePage, error) {
	var page QueuePage
	q := url.Values{"includeMovie": {"true"}}
	if err := c.api.Do(ctx, http.MethodGet, "/queue", q, nil, &page); err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return &page, nil
}

// History returns the newest pageSize history records.
func (c *Client) History(ctx context.Context, pageSize int) (*HistoryPage, error) {
	var page HistoryPage
	q := url.Values{
		"includeMovie": {"true"},
		"pageSize":     {strconv.Itoa(pageSize)},
	}
	if err := c.api.Do(ctx, http.MethodGet, "/history", q, nil, &page); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &page, nil
}
