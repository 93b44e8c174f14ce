package resilience

import (
	"math/rand/v2"
	"time"
)

// maxBackoffShift keeps base<<shift well inside time.Duration.
const maxBackoffShift = 20

// Backoff returns base doubled per attempt after the first, spread by
// ±jitterPct (0.2 == 20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << min(attempt-1, maxBackoffShift)
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitterPct * float64(d)
	return d + time.Duration(delta)
}
