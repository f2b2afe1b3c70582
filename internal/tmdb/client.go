// Package tmdb searches The Movie Database for movies, shows and people.
package tmdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nugget/kyle/internal/httpkit"
)

// DefaultBaseURL is the public v3 API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

// SearchOptions narrow a search. Zero values are omitted.
type SearchOptions struct {
	Page int
	Year int
}

func (o SearchOptions) query(q string) url.Values {
	v := url.Values{"query": {q}}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Year > 0 {
		v.Set("year", strconv.Itoa(o.Year))
	}
	return v
}

// Client is a TMDB v3 client authenticated with a read access token.
type Client struct {
	api    *httpkit.Endpoint
	logger *slog.Logger
}

// NewClient creates a TMDB client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return &Client{
		api:    httpkit.NewEndpoint(baseURL, header, httpClient),
		logger: logger.With("component", "tmdb"),
	}
}

// Ping validates the token.
func (c *Client) Ping(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodGet, "/authentication", nil, nil, nil)
}

// SearchMovies searches movie titles.
func (c *Client) SearchMovies(ctx context.Context, q string, opts SearchOptions) (*Page[Movie], error) {
	var p Page[Movie]
	if err := c.api.Do(ctx, http.MethodGet, "/search/movie", opts.query(q), nil, &p); err != nil {
		return nil, fmt.Errorf("search movies %q: %w", q, err)
	}
	return &p, nil
}

// SearchShows searches TV show names.
func (c *Client) SearchShows(ctx context.Context, q string, opts SearchOptions) (*Page[Show], error) {
	var p Page[Show]
	if err := c.api.Do(ctx, http.MethodGet, "/search/tv", opts.query(q), nil, &p); err != nil {
		return nil, fmt.Errorf("search tv %q: %w", q, err)
	}
	return &p, nil
}

// SearchMulti searches movies, shows and people at once.
func (c *Client) SearchMulti(ctx context.Context, q string, opts SearchOptions) (*Page[MultiResult], error) {
	var p Page[MultiResult]
	if err := c.api.Do(ctx, http.MethodGet, "/search/multi", opts.query(q), nil, &p); err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}
	return &p, nil
}

// Movie fetches full details for a TMDB movie id.
func (c *Client) Movie(ctx context.Context, id int) (*MovieDetails, error) {
	var d MovieDetails
	if err := c.api.Do(ctx, http.MethodGet, "/movie/"+strconv.Itoa(id), nil, nil, &d); err != nil {
		return nil, fmt.Errorf("get movie %d: %w", id, err)
	}
	return &d, nil
}

// Show fetches full details for a TMDB TV id.
func (c *Client) Show(ctx context.Context, id int) (*ShowDetails, error) {
	var d ShowDetails
	if err := c.api.Do(ctx, http.MethodGet, "/tv/"+strconv.Itoa(id), nil, nil, &d); err != nil {
		return nil, fmt.Errorf("get tv %d: %w", id, err)
	}
	return &d, nil
}
