package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"

	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
)

// RequestFunc performs exactly one outbound call
type RequestFunc func(ctx context.Context) (*http.Response, error)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// GovernorOptions configures a Governor. Zero values select the defaults.
type GovernorOptions struct {
	Margin           int           // proactive wait below this many remaining calls (default 10)
	Buffer           time.Duration // added to every rate-limit wait (default 5s)
	TransientBackoff time.Duration // wait before retrying a connection failure (default 5s)
	Now              func() time.Time
	Sleep            SleepFunc
	Logger           *logger.Logger
}

// Rate limit resources. GitHub keeps a separate quota for each.
const (
	ResourceCore    = "core"
	ResourceSearch  = "search"
	ResourceGraphQL = "graphql"
)

type resourceKey struct{}

// WithResource marks calls made with ctx as consuming the named quota. Calls without a
// resource are charged to ResourceCore.
func WithResource(ctx context.Context, resource string) context.Context {
	return context.WithValue(ctx, resourceKey{}, resource)
}

func resourceFrom(ctx context.Context) string {
	if r, ok := ctx.Value(resourceKey{}).(string); ok && r != "" {
		return r
	}
	return ResourceCore
}

// Quota is the last known state of one resource's rate limit
type Quota struct {
	Remaining int // -1 while unknown
	Reset     time.Time
}

// GovernorStats is a snapshot of the quota trackers
type GovernorStats struct {
	Requests int64
	Quotas   map[string]Quota
}

// Governor wraps every outbound call, absorbing rate limiting and transport failures.
// Quotas are tracked per resource, shared by all workers and updated from every response.
type Governor struct {
	mu       sync.Mutex
	quotas   map[string]*Quota
	requests int64

	margin  int
	buffer  time.Duration
	backoff time.Duration
	now     func() time.Time
	sleep   SleepFunc
	log     *logger.Logger
}

// NewGovernor creates a new rate-limit governor
func NewGovernor(opts GovernorOptions) *Governor {
	g := &Governor{
		quotas:  make(map[string]*Quota),
		margin:  opts.Margin,
		buffer:  opts.Buffer,
		backoff: opts.TransientBackoff,
		now:     opts.Now,
		sleep:   opts.Sleep,
		log:     opts.Logger,
	}
	if g.margin <= 0 {
		g.margin = 10
	}
	if g.buffer <= 0 {
		g.buffer = 5 * time.Second
	}
	if g.backoff <= 0 {
		g.backoff = 5 * time.Second
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sleep == nil {
		g.sleep = sleepContext
	}
	if g.log == nil {
		g.log = logger.Nop()
	}
	return g
}

// Guard runs fn until it yields a non-rate-limited response. Rate limits and transport
// errors are retried without a cap; any other non-2xx status becomes REQUEST_FAILED.
// The call is charged to the resource set on ctx by WithResource.
func (g *Governor) Guard(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	resource := resourceFrom(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := g.waitForQuota(ctx, resource); err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.requests++
		g.mu.Unlock()

		resp, err := fn(ctx)
		if resp != nil {
			g.observe(resp.Header, resource)
		}

		if wait, limited := g.rateLimitWait(resp, err); limited {
			drain(resp)
			g.log.Warn().Str("resource", resource).Dur("wait", wait).Msg("rate limit reached, waiting for reset")
			if err := g.sleep(ctx, wait); err != nil {
				return nil, err
			}
			g.forgetQuota(resource)
			continue
		}

		if resp == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if err == nil {
				err = errors.New("no response")
			}
			g.log.Warn().Err(err).Dur("backoff", g.backoff).Msg("transient network error, retrying")
			if err := g.sleep(ctx, g.backoff); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			drain(resp)
			msg := fmt.Sprintf("%s returned %d", requestTarget(resp), resp.StatusCode)
			appErr := apperrors.NewRequestFailedError(resp.StatusCode, msg)
			appErr.Err = err
			return nil, appErr
		}
		if err != nil {
			return resp, apperrors.NewMalformedResponseError("decoding response", err)
		}
		return resp, nil
	}
}

// WaitForReset suspends the caller until the quota of ctx's resource resets. It is used when
// a rate limit is reported inside a successful response body, as GraphQL does.
func (g *Governor) WaitForReset(ctx context.Context) error {
	resource := resourceFrom(ctx)
	g.mu.Lock()
	wait := g.waitUntilLocked(g.quotaLocked(resource).Reset)
	g.mu.Unlock()

	g.log.Warn().Str("resource", resource).Dur("wait", wait).Msg("rate limited by query payload, waiting for reset")
	if err := g.sleep(ctx, wait); err != nil {
		return err
	}
	g.forgetQuota(resource)
	return nil
}

// UpdateLimit records the quota the API reported for resource
func (g *Governor) UpdateLimit(resource string, remaining int, resetTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := g.quotaLocked(resource)
	q.Remaining = remaining
	q.Reset = resetTime
}

// Stats returns the current tracker state
func (g *Governor) Stats() GovernorStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	quotas := make(map[string]Quota, len(g.quotas))
	for r, q := range g.quotas {
		quotas[r] = *q
	}
	return GovernorStats{Requests: g.requests, Quotas: quotas}
}

// quotaLocked returns the tracker of resource, creating an unknown one on first use
func (g *Governor) quotaLocked(resource string) *Quota {
	q, ok := g.quotas[resource]
	if !ok {
		q = &Quota{Remaining: -1}
		g.quotas[resource] = q
	}
	return q
}

func (g *Governor) waitForQuota(ctx context.Context, resource string) error {
	g.mu.Lock()
	q := g.quotaLocked(resource)
	remaining, reset := q.Remaining, q.Reset
	if remaining < 0 || remaining >= g.margin || !reset.After(g.now()) {
		g.mu.Unlock()
		return nil
	}
	wait := g.waitUntilLocked(reset)
	g.mu.Unlock()

	g.log.Info().Str("resource", resource).Int("remaining", remaining).Dur("wait", wait).
		Msg("rate limit low, waiting until reset")
	if err := g.sleep(ctx, wait); err != nil {
		return err
	}

	g.mu.Lock()
	if q.Reset.Equal(reset) {
		q.Remaining = -1
	}
	g.mu.Unlock()
	return nil
}

// waitUntilLocked returns max(reset-now, 1s) + buffer
func (g *Governor) waitUntilLocked(reset time.Time) time.Duration {
	wait := reset.Sub(g.now())
	if wait < time.Second {
		wait = time.Second
	}
	return wait + g.buffer
}

func (g *Governor) forgetQuota(resource string) {
	g.mu.Lock()
	g.quotaLocked(resource).Remaining = -1
	g.mu.Unlock()
}

// observe records the rate headers of a response. X-RateLimit-Resource names the quota the
// call was charged to; fallback is used when the header is absent.
func (g *Governor) observe(h http.Header, fallback string) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	resource := h.Get("X-RateLimit-Resource")
	if resource == "" {
		resource = fallback
	}
	g.UpdateLimit(resource, remaining, time.Unix(reset, 0))
}

// rateLimitWait decides whether a result is attributable to rate limiting and how long to wait
func (g *Governor) rateLimitWait(resp *http.Response, err error) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return g.waitUntilLocked(rle.Rate.Reset.Time), true
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		if abuse.RetryAfter != nil {
			return g.waitUntilLocked(g.now().Add(*abuse.RetryAfter)), true
		}
		return g.waitUntilLocked(g.now().Add(time.Minute)), true
	}

	if resp == nil {
		return 0, false
	}
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), g.now()); ok {
		return g.waitUntilLocked(g.now().Add(d)), true
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			return g.waitUntilLocked(time.Unix(reset, 0)), true
		}
		return g.waitUntilLocked(g.now().Add(time.Minute)), true
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return g.waitUntilLocked(g.now().Add(time.Minute)), true
	}
	return 0, false
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.Sub(now), true
	}
	return 0, false
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}

func requestTarget(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return "request"
	}
	return resp.Request.Method + " " + resp.Request.URL.Path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
