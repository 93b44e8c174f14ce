package resilience_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

func TestBreakerPublishesTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	var logs bytes.Buffer
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	breaker := resilience.NewBreaker(1, 0.5, time.Minute).
		WithTarget("stripe").
		WithLogger(zerolog.New(&logs)).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("stripe")) }
	transitions := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("stripe", from, to))
	}

	require.Equal(t, 0.0, state())

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, state())

	// a failed probe sends the breaker straight back to open
	now = now.Add(time.Minute)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, state())
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, state())

	now = now.Add(time.Minute)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, true)
	require.Equal(t, 0.0, state())

	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("stripe")))
	require.Equal(t, 1.0, transitions("closed", "open"))
	require.Equal(t, 2.0, transitions("open", "half_open"))
	require.Equal(t, 1.0, transitions("half_open", "open"))
	require.Equal(t, 1.0, transitions("half_open", "closed"))

	require.Equal(t, 5, strings.Count(logs.String(), `"message":"breaker_transition"`))
	require.Contains(t, logs.String(), `"target":"stripe"`)
}
