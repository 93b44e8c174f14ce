package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/notify"
	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

func paidEvent() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicOrderPaid,
		AggregateID: "order_A1",
		Payload:     json.RawMessage(`{"orderId":"order_A1","paymentId":"pay_B2"}`),
		OccurredAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierSignsDelivery(t *testing.T) {
	type recorded struct {
		header http.Header
		body   []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := &notify.WebhookNotifier{
		URL:    srv.URL,
		Secret: "secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(1, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     time.Second,
			Target:      "fulfillment-webhook",
		},
	}
	ev := paidEvent()
	require.NoError(t, n.Notify(context.Background(), ev))

	rec := <-received
	require.Equal(t, "application/json", rec.header.Get("Content-Type"))
	require.Equal(t, ev.ID.String(), rec.header.Get("X-Event-ID"))
	require.Equal(t, ev.ID.String(), rec.header.Get("X-Idempotency-Key"))
	ts, err := strconv.ParseInt(rec.header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, ev.ID.String(), rec.body), rec.header.Get("X-Signature"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &payload))
	require.Equal(t, "order.paid", payload["topic"])
	require.Equal(t, "order_A1", payload["aggregateId"])
}

func TestWebhookNotifierRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	n := &notify.WebhookNotifier{
		URL:    srv.URL,
		Secret: "secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(10, 1, time.Second),
			MaxAttempts: 3,
			BaseBackoff: time.Millisecond,
			Timeout:     time.Second,
		},
	}
	err := n.Notify(context.Background(), paidEvent())
	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifierSkipsUnsubscribedTopics(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	n := &notify.WebhookNotifier{
		URL:    srv.URL,
		HTTP:   &resilience.HTTPClient{Client: srv.Client()},
		Topics: []string{events.TopicOrderPaid},
	}
	ev := paidEvent()
	ev.Topic = events.TopicPaymentFailed
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Zero(t, calls.Load())
}

func TestWebhookNotifierRejectsPlainHTTPRemoteHosts(t *testing.T) {
	n := &notify.WebhookNotifier{
		URL:  "http://fulfillment.example.com/hook",
		HTTP: &resilience.HTTPClient{Client: http.DefaultClient},
	}
	require.Error(t, n.Notify(context.Background(), paidEvent()))
}

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	n := notify.LogNotifier{Logger: &logger}

	require.NoError(t, n.Notify(context.Background(), paidEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "domain_event", line["message"])
	require.Equal(t, "order.paid", line["topic"])
	require.Equal(t, "order_A1", line["aggregate_id"])
}

func TestRedisReplayProtector(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := notify.RedisReplayProtector{Client: client, Prefix: "test"}
	ctx := context.Background()

	fresh, err := guard.Acquire(ctx, "wh:stripe:abc", time.Minute)
	require.NoError(t, err)
	require.True(t, fresh)
	require.True(t, mr.Exists("test:wh:stripe:abc"))

	fresh, err = guard.Acquire(ctx, "wh:stripe:abc", time.Minute)
	require.NoError(t, err)
	require.False(t, fresh)

	require.NoError(t, guard.Release(ctx, "wh:stripe:abc"))
	fresh, err = guard.Acquire(ctx, "wh:stripe:abc", time.Minute)
	require.NoError(t, err)
	require.True(t, fresh)
}
