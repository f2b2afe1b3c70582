// Package odesli converts music streaming links between platforms using
// the Odesli (song.link) API.
package odesli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nugget/kyle/internal/httpkit"
	"github.com/nugget/kyle/internal/tools"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.song.link/v1-alpha.1"

// PlatformLink is one platform's link to the entity.
type PlatformLink struct {
	URL            string `json:"url"`
	EntityUniqueID string `json:"entityUniqueId"`
}

// Entity describes a song or album on one provider.
type Entity struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	ArtistName string `json:"artistName,omitempty"`
}

// Links is the /links response.
type Links struct {
	EntityUniqueID     string                  `json:"entityUniqueId"`
	UserCountry        string                  `json:"userCountry"`
	PageURL            string                  `json:"pageUrl"`
	LinksByPlatform    map[string]PlatformLink `json:"linksByPlatform"`
	EntitiesByUniqueID map[string]Entity       `json:"entitiesByUniqueId"`
}

// Client is an Odesli API client. The API works without a key at a low
// rate limit; a key raises it.
type Client struct {
	api     *httpkit.Endpoint
	apiKey  string
	country string
	logger  *slog.Logger
}

// NewClient creates a client. country is the default userCountry.
func NewClient(baseURL, apiKey, country string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:     httpkit.NewEndpoint(baseURL, nil, httpClient),
		apiKey:  apiKey,
		country: country,
		logger:  logger.With("component", "odesli"),
	}
}

// Links resolves a streaming URL to every platform Odesli knows.
func (c *Client) Links(ctx context.Context, songURL, country string) (*Links, error) {
	q := url.Values{"url": {songURL}}
	if country == "" {
		country = c.country
	}
	if country != "" {
		q.Set("userCountry", country)
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	var l Links
	if err := c.api.Do(ctx, http.MethodGet, "/links", q, nil, &l); err != nil {
		return nil, fmt.Errorf("convert %s: %w", songURL, err)
	}
	return &l, nil
}

// Register adds convertMusicLink to reg.
func Register(reg *tools.Registry, c *Client) {
	reg.Register(&tools.Tool{
		Name: "convertMusicLink",
		Description: "Convert a music streaming link (Spotify, Apple Music, YouTube, ...) to links for every other " +
			"platform. Use it when the user shares a song on one platform and wants it on another.",
		Parameters: tools.Object(map[string]any{
			"url":         tools.String("The URL of the song on any streaming platform"),
			"userCountry": tools.String("Country code such as US or GB for region-specific results"),
		}, "url"),
		Status:  "is vibing to the music...",
		Handler: c.handleConvert,
	})
}

func (c *Client) handleConvert(ctx context.Context, call *tools.Call) (any, error) {
	l, err := c.Links(ctx, call.Args.String("url"), call.Args.String("userCountry"))
	if err != nil {
		return nil, err
	}
	links := make(map[string]string, len(l.LinksByPlatform))
	for platform, pl := range l.LinksByPlatform {
		links[platform] = pl.URL
	}
	out := map[string]any{
		"pageUrl": l.PageURL,
		"links":   links,
	}
	if e, ok := l.EntitiesByUniqueID[l.EntityUniqueID]; ok {
		out["title"] = e.Title
		out["artist"] = e.ArtistName
	}
	return out, nil
}
