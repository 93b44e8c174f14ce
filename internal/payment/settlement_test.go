package payment_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/payment"
	"github.com/noah-isme/foodapp-backend/internal/queue"
)

func TestQueueSettlerEnqueuesOncePerPair(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	settler := payment.QueueSettler{Queue: queue.Enqueuer{R: client, DedupTTL: time.Hour}, MaxAttempts: 5}
	s := payment.Settlement{OrderID: "order_A1", PaymentID: "pay_B2", Source: "verify", VerifiedAt: time.Now().UTC()}

	require.NoError(t, settler.Settle(context.Background(), s))
	require.NoError(t, settler.Settle(context.Background(), s))

	members, err := client.ZRange(context.Background(), "queue:"+payment.SettlementTaskKind, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var msg struct {
		Payload     []byte `json:"payload"`
		MaxAttempts int    `json:"max_attempts"`
	}
	require.NoError(t, json.Unmarshal([]byte(members[0]), &msg))
	require.Equal(t, 5, msg.MaxAttempts)
	decoded, err := payment.DecodeSettlement(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, "order_A1", decoded.OrderID)
	require.Equal(t, "pay_B2", decoded.PaymentID)
}

func TestDirectSettlerPublishesStableEvent(t *testing.T) {
	var got []events.Event
	bus := &events.Bus{Notifiers: []events.Notifier{events.NotifierFunc(func(_ context.Context, ev events.Event) error {
		got = append(got, ev)
		return nil
	})}}
	settler := payment.DirectSettler{Bus: bus}
	s := payment.Settlement{OrderID: "order_A1", PaymentID: "pay_B2", Source: "verify"}

	require.NoError(t, settler.Settle(context.Background(), s))
	require.NoError(t, settler.Settle(context.Background(), s))
	require.Len(t, got, 2)
	require.Equal(t, events.TopicOrderPaid, got[0].Topic)
	require.Equal(t, got[0].ID, got[1].ID, "redeliveries share an event id")
}

func TestDecodeSettlementRejectsGarbage(t *testing.T) {
	_, err := payment.DecodeSettlement([]byte("not json"))
	require.ErrorIs(t, err, payment.ErrInvalidInput)
	_, err = payment.DecodeSettlement([]byte(`{"orderId":"o"}`))
	require.ErrorIs(t, err, payment.ErrInvalidInput)
}

func TestQueueSettlerRetriesAfterFailedEnqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	settler := payment.QueueSettler{Queue: queue.Enqueuer{R: client}}
	s := payment.Settlement{OrderID: "order_A1", PaymentID: "pay_B2", Source: "verify", VerifiedAt: time.Now().UTC()}
	ready := "queue:" + payment.SettlementTaskKind

	require.NoError(t, client.Set(ctx, ready, "blocked", 0).Err())
	require.Error(t, settler.Settle(ctx, s))

	require.NoError(t, client.Del(ctx, ready).Err())
	require.NoError(t, settler.Settle(ctx, s))
	depth, err := client.ZCard(ctx, ready).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestVerifyRetryQueuesSettlementAfterFailedEnqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	ready := "queue:" + payment.SettlementTaskKind

	v := newTestVerifier(t, payment.QueueSettler{Queue: queue.Enqueuer{R: client}}, payment.RedisLedger{R: client})
	require.NoError(t, client.Set(ctx, ready, "blocked", 0).Err())

	out, err := v.Verify(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, payment.StateVerified, out.State)
	require.Error(t, out.SettlementErr)

	require.NoError(t, client.Del(ctx, ready).Err())
	out, err = v.Verify(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, out.State)
	require.NoError(t, out.SettlementErr)
	depth, err := client.ZCard(ctx, ready).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}
