package collector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

// fakeClock advances only when the governor sleeps
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestGovernor(clock *fakeClock) *Governor {
	return NewGovernor(GovernorOptions{
		Margin:           10,
		Buffer:           2 * time.Second,
		TransientBackoff: 3 * time.Second,
		Now:              clock.Now,
		Sleep:            clock.Sleep,
	})
}

func response(status int, headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/search/repositories", nil)
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader("{}")), Request: req}
}

func TestGovernor_WaitsForResetAfterRateLimitResponse(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)
	start := clock.Now()
	reset := start.Add(5 * time.Second)

	var calls []time.Time
	resp, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls = append(calls, clock.Now())
		if len(calls) == 1 {
			return response(http.StatusForbidden, map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
			}), nil
		}
		return response(http.StatusOK, nil), nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, calls, 2)
	assert.False(t, calls[1].Before(start.Add(5*time.Second+2*time.Second)),
		"second request issued at %v, before reset plus buffer", calls[1].Sub(start))
	assert.Equal(t, int64(2), g.Stats().Requests)
}

func TestGovernor_ProactiveWaitBelowMargin(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)
	reset := clock.Now().Add(30 * time.Second)

	_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, map[string]string{
			"X-RateLimit-Remaining": "3",
			"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
		}), nil
	})
	require.NoError(t, err)
	assert.Empty(t, clock.sleeps)

	var issuedAt time.Time
	_, err = g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		issuedAt = clock.Now()
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 32*time.Second, clock.sleeps[0])
	assert.False(t, issuedAt.Before(reset))
}

func TestGovernor_NoWaitAboveMargin(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)
	g.UpdateLimit(ResourceCore, 4000, clock.Now().Add(time.Hour))

	_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	assert.Empty(t, clock.sleeps)
}

func TestGovernor_QuotasTrackedPerResource(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)
	reset := clock.Now().Add(40 * time.Second)

	search := WithResource(context.Background(), ResourceSearch)
	_, err := g.Guard(search, func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, map[string]string{
			"X-RateLimit-Remaining": "1",
			"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
			"X-RateLimit-Resource":  "search",
		}), nil
	})
	require.NoError(t, err)

	// an exhausted search quota does not hold back GraphQL calls
	_, err = g.Guard(WithResource(context.Background(), ResourceGraphQL), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, map[string]string{
			"X-RateLimit-Remaining": "4999",
			"X-RateLimit-Reset":     strconv.FormatInt(clock.Now().Add(time.Hour).Unix(), 10),
			"X-RateLimit-Resource":  "graphql",
		}), nil
	})
	require.NoError(t, err)
	assert.Empty(t, clock.sleeps)

	// and a large GraphQL quota does not hide it
	_, err = g.Guard(search, func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{42 * time.Second}, clock.sleeps)

	stats := g.Stats()
	assert.Equal(t, 4999, stats.Quotas[ResourceGraphQL].Remaining)
	assert.Equal(t, -1, stats.Quotas[ResourceSearch].Remaining)
}

func TestGovernor_ResourceHeaderOverridesContext(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)

	_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, map[string]string{
			"X-RateLimit-Remaining": "25",
			"X-RateLimit-Reset":     strconv.FormatInt(clock.Now().Add(time.Minute).Unix(), 10),
			"X-RateLimit-Resource":  "search",
		}), nil
	})
	require.NoError(t, err)

	stats := g.Stats()
	assert.Equal(t, 25, stats.Quotas[ResourceSearch].Remaining)
	assert.Equal(t, -1, stats.Quotas[ResourceCore].Remaining)
}

func TestGovernor_RetryAfter(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)

	calls := 0
	_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			return response(http.StatusTooManyRequests, map[string]string{"Retry-After": "10"}), nil
		}
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{12 * time.Second}, clock.sleeps)
}

func TestGovernor_GoGitHubRateLimitError(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)
	reset := clock.Now().Add(20 * time.Second)

	calls := 0
	_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := response(http.StatusForbidden, nil)
			return resp, &github.RateLimitError{
				Rate:     github.Rate{Remaining: 0, Reset: github.Timestamp{Time: reset}},
				Response: resp,
				Message:  "API rate limit exceeded",
			}
		}
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{22 * time.Second}, clock.sleeps)
}

func TestGovernor_TransportErrorsRetried(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)

	calls := 0
	_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls <= 3 {
			return nil, errors.New("connection reset by peer")
		}
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, clock.sleeps)
}

func TestGovernor_OtherErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"plain forbidden", http.StatusForbidden, false},
		{"not found", http.StatusNotFound, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
		{"bad gateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			g := newTestGovernor(clock)

			calls := 0
			_, err := g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
				calls++
				return response(tt.status, nil), nil
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.True(t, apperrors.IsRequestFailed(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.Empty(t, clock.sleeps)
		})
	}
}

func TestGovernor_CancelledContext(t *testing.T) {
	g := NewGovernor(GovernorOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Guard(ctx, func(ctx context.Context) (*http.Response, error) {
		t.Fatal("request must not be issued")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGovernor_ConcurrentCounter(t *testing.T) {
	g := NewGovernor(GovernorOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Guard(context.Background(), func(ctx context.Context) (*http.Response, error) {
				return response(http.StatusOK, map[string]string{
					"X-RateLimit-Remaining": "4000",
					"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
				}), nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), g.Stats().Requests)
	assert.Equal(t, 4000, g.Stats().Quotas[ResourceCore].Remaining)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	d, ok := parseRetryAfter("7", now)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	d, ok = parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	_, ok = parseRetryAfter("", now)
	assert.False(t, ok)
}
