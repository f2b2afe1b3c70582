// Package ultra reads storage and traffic statistics from the seedbox
// provider's API.
package ultra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nugget/kyle/internal/httpkit"
	"github.com/nugget/kyle/internal/tools"
)

// Stats is the /total-stats response.
type Stats struct {
	Service ServiceStats `json:"service_stats_info"`
}

// ServiceStats holds storage and traffic figures.
type ServiceStats struct {
	FreeStorageBytes           int64   `json:"free_storage_bytes"`
	FreeStorageGB              float64 `json:"free_storage_gb"`
	LastTrafficReset           string  `json:"last_traffic_reset"`
	NextTrafficReset           string  `json:"next_traffic_reset"`
	TotalStorageUnit           string  `json:"total_storage_unit"`
	TotalStorageValue          float64 `json:"total_storage_value"`
	TrafficAvailablePercentage float64 `json:"traffic_available_percentage"`
	TrafficUsedPercentage      float64 `json:"traffic_used_percentage"`
	UsedStorageUnit            string  `json:"used_storage_unit"`
	UsedStorageValue           float64 `json:"used_storage_value"`
}

// Client is an Ultra API client.
type Client struct {
	api    *httpkit.Endpoint
	logger *slog.Logger
}

// NewClient creates a client authenticated with a bearer token.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return &Client{
		api:    httpkit.NewEndpoint(baseURL, header, httpClient),
		logger: logger.With("component", "ultra"),
	}
}

// TotalStats fetches the current storage and traffic figures.
func (c *Client) TotalStats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.api.Do(ctx, http.MethodGet, "/total-stats", nil, nil, &s); err != nil {
		return nil, fmt.Errorf("get total stats: %w", err)
	}
	return &s, nil
}

// Ping reads the stats endpoint; there is no cheaper authenticated call.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.TotalStats(ctx)
	return err
}

// Register adds getStorageStats to reg.
func Register(reg *tools.Registry, c *Client) {
	reg.Register(&tools.Tool{
		Name: "getStorageStats",
		Description: "Check storage and traffic usage of the media server. " +
			"Only tell the user the figures relevant to their question.",
		Parameters: tools.Object(map[string]any{}),
		Status:     "is counting bytes...",
		Progress:   ":ultra: _Checking storage_",
		Handler:    c.handleStats,
	})
}

func (c *Client) handleStats(ctx context.Context, _ *tools.Call) (any, error) {
	s, err := c.TotalStats(ctx)
	if err != nil {
		return nil, err
	}
	st := s.Service
	return map[string]any{
		"freeStorageGB":         st.FreeStorageGB,
		"totalStorage":          fmt.Sprintf("%g %s", st.TotalStorageValue, st.TotalStorageUnit),
		"usedStorage":           fmt.Sprintf("%g %s", st.UsedStorageValue, st.UsedStorageUnit),
		"trafficUsedPercentage": st.TrafficUsedPercentage,
		"nextTrafficReset":      st.NextTrafficReset,
	}, nil
}
