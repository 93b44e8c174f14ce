package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/foodapp-backend/internal/common"
)

// Version is reported by the /health summary.
const Version = "2.0.0"

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness; the API clears it when draining for shutdown.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one dependency within timeout.
type Probe func(ctx context.Context, timeout time.Duration) error

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	// Probes maps a dependency name (redis, db) to its check. Unconfigured
	// dependencies are simply absent.
	Probes  map[string]Probe
	Timeout time.Duration
	// Features is echoed by the /health summary.
	Features map[string]string
	Now      func() time.Time
}

// Summary reports service status in the legacy /health shape.
func (h Handler) Summary(w http.ResponseWriter, _ *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	features := h.Features
	if features == nil {
		features = map[string]string{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"version":     Version,
		"ai_features": features,
	})
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	var (
		mu      sync.Mutex
		g       errgroup.Group
		healthy = true
		status  = make(map[string]string, len(h.Probes))
	)
	for name, probe := range h.Probes {
		if probe == nil {
			continue
		}
		g.Go(func() error {
			result := "ok"
			if err := probe(r.Context(), h.timeout()); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			status[name] = result
			healthy = healthy && result == "ok"
			return nil
		})
	}
	_ = g.Wait()
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
