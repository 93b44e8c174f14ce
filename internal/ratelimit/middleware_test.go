package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Duration, int) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type fixedLimiter struct {
	allowed bool
	reset   time.Time
	calls   int
}

func (f *fixedLimiter) Allow(context.Context, string, time.Duration, int) (bool, int, time.Time, error) {
	f.calls++
	return f.allowed, 0, f.reset, nil
}

func TestMiddlewareRejectsOnceBucketIsSpent(t *testing.T) {
	store, err := NewStore(nil, "test")
	require.NoError(t, err)

	counted := Handler{
		Limiter: StoreLimiter{Store: store},
		Config: Config{
			Key:    func(*http.Request) string { return "static" },
			Window: time.Minute,
			Max:    1,
		},
	}.Middleware(okHandler())

	first := httptest.NewRecorder()
	counted.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/create-order", nil))
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	counted.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/create-order", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, second.Header().Get("Retry-After"))
	require.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestRetryAfterRoundsUp(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lim := &fixedLimiter{reset: now.Add(1500 * time.Millisecond)}
	h := Handler{
		Limiter: lim,
		Config:  Config{Key: func(*http.Request) string { return "k" }, Window: time.Minute, Max: 3},
		Now:     func() time.Time { return now },
	}

	rr := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/verify-payment", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "2", rr.Header().Get("Retry-After"))
	require.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))

	lim.reset = now.Add(-time.Second)
	rr = httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/verify-payment", nil))
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestPreflightIsNotCounted(t *testing.T) {
	lim := &fixedLimiter{}
	h := Handler{Limiter: lim, Config: PerIP(time.Minute, 1)}

	rr := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/create-order", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Zero(t, lim.calls)
	require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestPerIPSeparatesClients(t *testing.T) {
	store, err := NewStore(nil, "ip")
	require.NoError(t, err)
	counted := Handler{Limiter: StoreLimiter{Store: store}, Config: PerIP(time.Minute, 1)}.Middleware(okHandler())

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, addr)
	}
}

func TestRedisStoreEnforcesLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client, "ratelimit")
	require.NoError(t, err)
	lim := StoreLimiter{Store: store}
	ctx := context.Background()

	allowed, remaining, _, err := lim.Allow(ctx, "k", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)

	_, _, _, err = lim.Allow(ctx, "k", time.Minute, 2)
	require.NoError(t, err)
	allowed, _, _, err = lim.Allow(ctx, "k", time.Minute, 2)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	called := false
	handler := Handler{
		Limiter: failingLimiter{},
		Config:  Config{Key: func(*http.Request) string { return "err" }, Window: time.Second, Max: 1},
		OnError: func(error) { called = true },
	}

	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}
