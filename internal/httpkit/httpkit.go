// Package httpkit builds the HTTP clients behind every outbound call
// Kyle makes: Slack, the model providers and the media services. All of
// them share one set of dial, TLS and pool limits, carry the Kyle
// User-Agent, and may opt into retrying refused connections. The
// [Endpoint] helper in endpoint.go covers the JSON request shape the
// media service clients have in common.
package httpkit

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/kyle/internal/buildinfo"
)

// DefaultTimeout bounds a whole request made by a client from
// [NewClient]. Streaming model calls turn it off with WithTimeout(0).
const DefaultTimeout = 30 * time.Second

// Transport limits. Media services are few and local, so the idle pool
// stays small.
const (
	dialTimeout           = 10 * time.Second
	tcpKeepAlive          = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 15 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxIdleConns          = 20
	maxIdleConnsPerHost   = 5
)

// ClientOption adjusts a client built by [NewClient].
type ClientOption func(*options)

type options struct {
	timeout    time.Duration
	userAgent  string
	transport  *http.Transport
	jar        http.CookieJar
	insecure   bool
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// WithTimeout replaces [DefaultTimeout]. Zero means no limit.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent replaces the Kyle/<version> User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithTransport supplies the base transport, for callers that tune it
// before handing it over.
func WithTransport(t *http.Transport) ClientOption {
	return func(o *options) { o.transport = t }
}

// WithCookieJar keeps session cookies between requests. qBittorrent
// authenticates this way.
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(o *options) { o.jar = jar }
}

// WithTLSInsecureSkipVerify accepts any server certificate. Set per
// service by the insecure_skip_verify config key, for self-signed home
// lab endpoints.
func WithTLSInsecureSkipVerify() ClientOption {
	return func(o *options) { o.insecure = true }
}

// WithRetry retries up to count times when the connection itself fails
// (refused, unreachable), waiting delay, then 2*delay, and so on. A
// Radarr or Sonarr container restarting after an update is the usual
// cause.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retries = count
		o.retryDelay = delay
	}
}

// WithLogger receives retry attempts at debug level.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewTransport returns a transport with Kyle's dial, TLS and pool
// limits. Proxy settings come from the environment.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: tcpKeepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient returns an *http.Client configured by opts.
func NewClient(opts ...ClientOption) *http.Client {
	o := &options{timeout: DefaultTimeout, userAgent: buildinfo.UserAgent()}
	for _, opt := range opts {
		opt(o)
	}

	base := o.transport
	if base == nil {
		base = NewTransport()
	}
	if o.insecure {
		if base.TLSClientConfig == nil {
			base.TLSClientConfig = &tls.Config{}
		}
		base.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // per-service opt-in
	}

	var rt http.RoundTripper = &userAgentTransport{base: base, ua: o.userAgent}
	if o.retries > 0 {
		rt = &retryTransport{base: rt, count: o.retries, delay: o.retryDelay, logger: o.logger}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt, Jar: o.jar}
}

// userAgentTransport sets User-Agent on requests that lack one.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

// retryTransport repeats requests whose connection could not be made.
// A request body is replayed through GetBody; without it the first
// error is final.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 1; attempt <= t.count && isRetryableError(err) && replayable; attempt++ {
		if t.logger != nil {
			t.logger.Debug("connection failed, retrying",
				"method", req.Method,
				"host", req.URL.Host,
				"attempt", attempt,
				"max_retries", t.count,
				"error", err,
			)
		}

		wait := time.NewTimer(t.delay * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			wait.Stop()
			return nil, req.Context().Err()
		case <-wait.C:
		}

		again := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			again.Body = body
		}
		resp, err = t.base.RoundTrip(again)
	}
	return resp, err
}

// isRetryableError reports whether err happened before the request
// reached the server. Connection resets do not count: the service may
// already have acted.
func isRetryableError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.ECONNREFUSED || errno == syscall.EHOSTUNREACH || errno == syscall.ENETUNREACH
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection can be reused. A nil rc is ignored.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns up to limit bytes of rc for an error message
// and then drains and closes it. A nil rc yields "".
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
