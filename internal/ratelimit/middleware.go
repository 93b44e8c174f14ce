package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/foodapp-backend/internal/common"
)

const limitedMessage = "Too many requests from this IP, please try again later."

// Config derives the bucket a request counts against and its quota.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// PerIP keys requests by client address.
func PerIP(window time.Duration, max int) Config {
	return Config{
		Key:    func(r *http.Request) string { return "ip:" + common.ClientIP(r) },
		Window: window,
		Max:    max,
	}
}

// Handler rejects requests once their bucket is exhausted. Preflight
// requests are never counted.
type Handler struct {
	Limiter Limiter
	Config  Config
	// OnError observes limiter failures; the request is let through.
	OnError func(error)
	Now     func() time.Time
}

func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Config.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, reset, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeQuota(w.Header(), max(h.Config.Max, 0), remaining, reset)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(h.retryAfter(reset)))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", limitedMessage, nil)
	})
}

// retryAfter rounds up so clients never retry inside the current window.
func (h Handler) retryAfter(reset time.Time) int {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	secs := math.Ceil(reset.Sub(now()).Seconds())
	if secs < 1 {
		return 1
	}
	return int(secs)
}

func writeQuota(header http.Header, limit, remaining int, reset time.Time) {
	header.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}
