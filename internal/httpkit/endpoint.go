package httpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxErrorBody caps how much of a failed response body is kept in a
// StatusError.
const maxErrorBody = 2048

// StatusError is returned by Endpoint.Do when the remote service answers
// with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Endpoint is a JSON API rooted at BaseURL. Header is added to every
// request (API keys, bearer tokens).
type Endpoint struct {
	BaseURL string
	Header  http.Header
	Client  *http.Client
}

// NewEndpoint returns an Endpoint for baseURL using client, or a default
// client when client is nil.
func NewEndpoint(baseURL string, header http.Header, client *http.Client) *Endpoint {
	if client == nil {
		client = NewClient()
	}
	if header == nil {
		header = http.Header{}
	}
	return &Endpoint{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Header:  header,
		Client:  client,
	}
}

// Do sends a request to path with optional query parameters. A non-nil
// in is sent as a JSON body; a non-nil out receives the decoded JSON
// response. Non-2xx responses return a *StatusError.
func (e *Endpoint) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := e.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	for k, vs := range e.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       ReadErrorBody(resp.Body, maxErrorBody),
		}
	}
	defer DrainAndClose(resp.Body, 4096)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
