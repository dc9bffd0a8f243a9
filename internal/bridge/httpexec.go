package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/events"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// RateLimitEvent is emitted when a domain's queue bound is exceeded and a
// request fails fast. A request over the in-flight bound holds a queue slot
// and waits for an in-flight slot; it emits no event.
type RateLimitEvent struct {
	Domain     string
	RetryAfter time.Duration
}

// HTTPConfig tunes the executor's retry and rate-limit behavior.
type HTTPConfig struct {
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	Jitter             bool
	MaxInflightPerHost int
	MaxQueuedPerHost   int
	RequestTimeout     time.Duration
}

func (c *HTTPConfig) fillDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.MaxInflightPerHost <= 0 {
		c.MaxInflightPerHost = 8
	}
	if c.MaxQueuedPerHost <= 0 {
		c.MaxQueuedPerHost = 128
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

type hostState struct {
	limiter  *rate.Limiter
	inflight chan struct{} // semaphore, cap = MaxInflightPerHost
	queued   chan struct{} // semaphore, cap = MaxQueuedPerHost
}

// HTTPExecutor performs outbound requests with retry, exponential backoff,
// and per-domain bounds.
type HTTPExecutor struct {
	cfg    HTTPConfig
	client *http.Client

	mu    sync.Mutex
	hosts map[string]*hostState

	rateLimited *events.Bus[RateLimitEvent]
}

// NewHTTPExecutor creates an executor with the given configuration.
func NewHTTPExecutor(cfg HTTPConfig) *HTTPExecutor {
	cfg.fillDefaults()
	return &HTTPExecutor{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.RequestTimeout},
		hosts:       make(map[string]*hostState),
		rateLimited: events.NewBus[RateLimitEvent]("http.rate_limited", 16),
	}
}

// RateLimited exposes the rate-limit event bus.
func (e *HTTPExecutor) RateLimited() *events.Bus[RateLimitEvent] { return e.rateLimited }

func (e *HTTPExecutor) host(domain string) *hostState {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.hosts[domain]
	if !ok {
		h = &hostState{
			limiter:  rate.NewLimiter(rate.Limit(e.cfg.MaxInflightPerHost), e.cfg.MaxInflightPerHost),
			inflight: make(chan struct{}, e.cfg.MaxInflightPerHost),
			queued:   make(chan struct{}, e.cfg.MaxQueuedPerHost),
		}
		e.hosts[domain] = h
	}
	return h
}

// retryableStatus reports whether a response status warrants a retry.
// Anything else, other 4xx included, is final; a 5xx on the last attempt
// is still returned as a successful bridge call.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// Do performs one logical request, retrying per policy. DNS, TLS, and
// malformed-URL failures are terminal; timeouts and connection resets retry.
func (e *HTTPExecutor) Do(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*plugin.HTTPResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.InvalidInput("url")
	}
	domain := u.Hostname()
	h := e.host(domain)

	// Queue bound: reject rather than pile up.
	select {
	case h.queued <- struct{}{}:
		defer func() { <-h.queued }()
	default:
		e.emitRateLimit(domain, h)
		return nil, errs.ResourceExhausted("http queue " + domain)
	}

	// In-flight bound.
	select {
	case h.inflight <- struct{}{}:
		defer func() { <-h.inflight }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !h.limiter.Allow() {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, ctx.Err()
		}
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := e.once(ctx, method, rawURL, headers, body)
		if err != nil {
			if terminal(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if retryableStatus(resp.Status) && attempt < e.cfg.MaxAttempts-1 {
			lastErr = nil
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, errs.PlatformFailure("http", lastErr)
	}
	return nil, errs.Timeout("http retries exhausted")
}

// once performs a single attempt.
func (e *HTTPExecutor) once(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*plugin.HTTPResponse, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errs.InvalidInput("http request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &plugin.HTTPResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    data,
	}, nil
}

// terminal reports whether a transport error must not be retried.
func terminal(err error) bool {
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindInvalidInput, errs.KindCancelled:
			return true
		}
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return true
	}
	// DNS and TLS failures surface as *url.Error wrapping resolver or
	// certificate errors. Certificate problems never heal on retry; treat
	// hostname resolution the same way.
	var ue *url.Error
	if errors.As(err, &ue) {
		msg := ue.Err.Error()
		for _, marker := range []string{"no such host", "certificate", "tls:", "x509"} {
			if strings.Contains(msg, marker) {
				return true
			}
		}
	}
	return false
}

// sleep waits out the backoff before the given attempt number.
func (e *HTTPExecutor) sleep(ctx context.Context, attempt int) error {
	d := e.cfg.BackoffBase << (attempt - 1)
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	if e.cfg.Jitter {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *HTTPExecutor) emitRateLimit(domain string, h *hostState) {
	ev := RateLimitEvent{Domain: domain}
	if !h.limiter.Allow() {
		ev.RetryAfter = time.Second
	}
	e.rateLimited.Publish(ev)
}

// ExpiresAt computes response cache expiry from a TTL and the response's
// max-age: the earlier of the two bounds wins.
func ExpiresAt(receivedAt time.Time, ttl time.Duration, headers map[string][]string) time.Time {
	maxAge := ttl
	for _, cc := range headers["Cache-Control"] {
		if idx := strings.Index(cc, "max-age="); idx >= 0 {
			if secs, err := strconv.Atoi(trimNonDigits(cc[idx+len("max-age="):])); err == nil {
				if d := time.Duration(secs) * time.Second; d < maxAge {
					maxAge = d
				}
			}
		}
	}
	return receivedAt.Add(maxAge)
}

func trimNonDigits(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return s[:i]
		}
	}
	return s
}
