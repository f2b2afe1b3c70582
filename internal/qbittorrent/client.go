// Package qbittorrent talks to the qBittorrent Web API v2.
package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/nugget/kyle/internal/httpkit"
)

// ErrLoginFailed is returned when qBittorrent rejects the credentials.
var ErrLoginFailed = errors.New("qbittorrent login failed")

// Client is a qBittorrent Web API client. The SID session cookie lives
// in the HTTP client's cookie jar; a 403 triggers one re-login.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// NewClient creates a client. httpClient may be nil; either way the
// client used has its own cookie jar.
func NewClient(baseURL, username, password string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	var hc *http.Client
	if httpClient == nil {
		hc = httpkit.NewClient(httpkit.WithCookieJar(jar), httpkit.WithLogger(logger))
	} else {
		cp := *httpClient
		cp.Jar = jar
		hc = &cp
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/") + "/api/v2",
		username: username,
		password: password,
		http:     hc,
		logger:   logger.With("component", "qbittorrent"),
	}, nil
}

// Ping logs in if needed and reads the application version.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/app/version", nil, nil)
}

// Torrents lists torrents, optionally filtered by one of Filters.
func (c *Client) Torrents(ctx context.Context, filter string) ([]Torrent, error) {
	path := "/torrents/info"
	if filter != "" {
		path += "?" + url.Values{"filter": {filter}}.Encode()
	}
	var out []Torrent
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}
	return out, nil
}

// DeleteTorrents removes torrents by hash along with their files.
func (c *Client) DeleteTorrents(ctx context.Context, hashes []string) error {
	form := url.Values{
		"hashes":      {strings.Join(hashes, "|")},
		"deleteFiles": {"true"},
	}
	if err := c.call(ctx, http.MethodPost, "/torrents/delete", form, nil); err != nil {
		return fmt.Errorf("delete torrents: %w", err)
	}
	return nil
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent rejects logins whose Referer does not match its host.
	req.Header.Set("Referer", strings.TrimSuffix(c.baseURL, "/api/v2"))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	body := httpkit.ReadErrorBody(resp.Body, 256)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(body) != "Ok." {
		return fmt.Errorf("%w: HTTP %d: %s", ErrLoginFailed, resp.StatusCode, strings.TrimSpace(body))
	}

	hasSID := false
	for _, ck := range c.http.Jar.Cookies(req.URL) {
		if ck.Name == "SID" {
			hasSID = true
		}
	}
	if !hasSID {
		return fmt.Errorf("%w: no SID cookie in response", ErrLoginFailed)
	}
	c.logger.Debug("logged in")
	return nil
}

// call performs an authenticated request, logging in first when there
// is no session and once more if the session has expired.
func (c *Client) call(ctx context.Context, method, path string, form url.Values, out any) error {
	c.mu.Lock()
	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
		c.loggedIn = true
	}
	c.mu.Unlock()

	resp, err := c.send(ctx, method, path, form)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusForbidden {
		httpkit.DrainAndClose(resp.Body, 4096)
		c.logger.Debug("session expired, logging in again")
		c.mu.Lock()
		err := c.login(ctx)
		c.loggedIn = err == nil
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if resp, err = c.send(ctx, method, path, form); err != nil {
			return err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpkit.StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 2048),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
