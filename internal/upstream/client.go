// SPDX-License-Identifier: MIT

// Package upstream is a typed client for the IPTV management service. It
// owns the auth token lifecycle, client-side rate limiting, retries with
// exponential backoff, and the mapping of HTTP failures onto the error
// kinds the engine acts on.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Client talks to the upstream management API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string

	username string
	password string

	tokenMu      sync.Mutex
	accessToken  string
	refreshToken string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Options configures the upstream client behavior.
type Options struct {
	Username              string
	Password              string
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	MaxRetries            int
	Backoff               time.Duration
	MaxBackoff            time.Duration
	UserAgent             string
	RateLimit             rate.Limit
	RateLimitBurst        int
}

const (
	defaultTimeout        = 30 * time.Second
	defaultRetries        = 2
	defaultBackoff        = 250 * time.Millisecond
	defaultMaxBackoff     = 4 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
)

// NewClient creates a client for the given base URL. Credentials embedded in
// the URL are extracted and stripped, matching how operators tend to write
// upstream URLs in one line.
func NewClient(baseURL string, opts Options) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if u, err := url.Parse(trimmed); err == nil {
		if u.User != nil && opts.Username == "" {
			opts.Username = u.User.Username()
			if pass, ok := u.User.Password(); ok {
				opts.Password = pass
			}
		}
		u.User = nil
		trimmed = strings.TrimRight(u.String(), "/")
	}

	nopts := normalizeOptions(opts)
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: nopts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
	}

	return &Client{
		BaseURL: trimmed,
		HTTPClient: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: transport,
		},
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		maxRetries: nopts.MaxRetries,
		backoff:    nopts.Backoff,
		maxBackoff: nopts.MaxBackoff,
		userAgent:  nopts.UserAgent,
		username:   nopts.Username,
		password:   nopts.Password,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = opts.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "streamwarden"
	}
	return opts
}

// request describes one logical API call. route is the stable label used for
// metrics and spans; path carries the concrete IDs.
type request struct {
	method string
	route  string
	path   string
	query  url.Values
	body   any
	out    any
	noAuth bool
}

// do executes a request with rate limiting, retries and token renewal.
// Transient failures are retried up to the configured budget; what escapes
// is always a *Error.
func (c *Client) do(ctx context.Context, req request) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return &Error{Kind: KindPermanent, Route: req.route, Err: fmt.Errorf("invalid base URL: %w", err)}
	}
	u.Path = req.path
	u.RawQuery = req.query.Encode()

	var bodyBytes []byte
	if req.body != nil {
		bodyBytes, err = json.Marshal(req.body)
		if err != nil {
			return &Error{Kind: KindPermanent, Route: req.route, Err: fmt.Errorf("encode body: %w", err)}
		}
	}

	tracer := telemetry.Tracer("streamwarden.upstream")
	ctx, span := tracer.Start(ctx, "warden.upstream.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(telemetry.HTTPMethodKey, req.method),
		attribute.String(telemetry.UpstreamRouteKey, req.route),
	)
	defer span.End()

	maxAttempts := c.maxRetries + 1
	authRetried := false
	page, _ := strconv.Atoi(req.query.Get("page"))
	var lastErr *Error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, attemptSpan := tracer.Start(ctx, "warden.upstream.request.attempt", trace.WithSpanKind(trace.SpanKindClient))
		attemptSpan.SetAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("retry", attempt > 1),
		)

		if err := c.limiter.Wait(attemptCtx); err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
			attemptSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return &Error{Kind: KindTransient, Route: req.route, Err: err}
		}

		status, retryAuth, attErr := c.attempt(attemptCtx, req, u.String(), bodyBytes)
		attemptSpan.SetAttributes(telemetry.UpstreamAttributes(req.route, page, status)...)

		if attErr == nil {
			attemptSpan.SetStatus(codes.Ok, "")
			attemptSpan.End()
			span.SetAttributes(attribute.Int(telemetry.UpstreamStatusKey, status))
			span.SetStatus(codes.Ok, "")
			return nil
		}

		attemptSpan.RecordError(attErr)
		attemptSpan.SetStatus(codes.Error, attErr.Error())
		attemptSpan.End()
		lastErr = attErr

		// A stale token gets one renewal cycle per request; the renewal
		// itself falls back from refresh to a full login.
		if retryAuth && !authRetried && !req.noAuth {
			authRetried = true
			if _, err := c.renewToken(ctx, lastErr.staleToken()); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return &Error{Kind: KindAuth, Status: status, Route: req.route, Err: err}
			}
			attempt-- // the auth retry does not consume a transport attempt
			continue
		}
		if retryAuth {
			span.RecordError(attErr)
			span.SetStatus(codes.Error, attErr.Error())
			return &Error{Kind: KindAuth, Status: status, Route: req.route, Err: attErr.Err}
		}

		if lastErr.Kind != KindTransient {
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, lastErr.Error())
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		wait := c.backoffFor(attempt - 1)
		logger := log.FromContext(ctx)
		logger.Warn().
			Str("component", "upstream").
			Str("event", "upstream.retry").
			Str("route", req.route).
			Int("attempt", attempt).
			Int("status", status).
			Dur("backoff", wait).
			Err(lastErr.Err).
			Msg("transient upstream failure, retrying")
		if err := sleepWithContext(ctx, wait); err != nil {
			span.RecordError(err)
			return &Error{Kind: KindTransient, Route: req.route, Err: err}
		}
	}

	// Retry budget exhausted: escalate to permanent so callers stop trying.
	out := &Error{
		Kind:   KindPermanent,
		Status: lastErr.Status,
		Route:  req.route,
		Err:    fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr.Err),
	}
	span.RecordError(out)
	span.SetStatus(codes.Error, out.Error())
	return out
}

func (e *Error) staleToken() string {
	if ae, ok := e.Err.(*attemptErrorWrap); ok {
		return ae.stale
	}
	return ""
}

// attemptErrorWrap carries the bearer token that produced a 401 so
// renewToken can tell whether another goroutine already replaced it.
type attemptErrorWrap struct {
	stale string
	err   error
}

func (w *attemptErrorWrap) Error() string { return w.err.Error() }
func (w *attemptErrorWrap) Unwrap() error { return w.err }

// attempt performs a single HTTP exchange. It returns the observed status,
// whether the failure is a candidate for token renewal, and the typed error.
func (c *Client) attempt(ctx context.Context, req request, rawURL string, body []byte) (int, bool, *Error) {
	var token string
	if !req.noAuth {
		var err error
		token, err = c.ensureToken(ctx)
		if err != nil {
			return 0, false, &Error{Kind: KindAuth, Route: req.route, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, rawURL, reader)
	if err != nil {
		return 0, false, &Error{Kind: KindPermanent, Route: req.route, Err: err}
	}
	c.applyHeaders(httpReq, token, body != nil)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.UpstreamRequests.WithLabelValues(req.route, strconv.Itoa(status)).Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(req.route).Observe(duration.Seconds())

	if err != nil {
		return 0, false, &Error{Kind: KindTransient, Route: req.route, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if status == http.StatusUnauthorized && !req.noAuth {
		return status, true, &Error{
			Kind:   KindAuth,
			Status: status,
			Route:  req.route,
			Err:    &attemptErrorWrap{stale: token, err: fmt.Errorf("token rejected")},
		}
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		detail := readErrorDetail(resp.Body)
		return status, false, &Error{
			Kind:   classifyStatus(status),
			Status: status,
			Route:  req.route,
			Err:    fmt.Errorf("unexpected status %d: %s", status, detail),
		}
	}

	if req.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(req.out); err != nil {
			return status, false, &Error{Kind: KindPermanent, Status: status, Route: req.route, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return status, false, nil
}

func (c *Client) applyHeaders(req *http.Request, token string, hasBody bool) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// readErrorDetail captures a short prefix of an error body for diagnostics.
func readErrorDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(b))
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
