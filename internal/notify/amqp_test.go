package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/events"
)

type fakeBroker struct {
	down       atomic.Bool
	closeCalls atomic.Int32
	publishErr error
	published  []string
}

func (b *fakeBroker) publish(_ context.Context, exchange, key string, _ amqp091.Publishing) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, exchange+"/"+key)
	return nil
}

func (b *fakeBroker) closed() bool { return b.down.Load() }

func (b *fakeBroker) Close() error {
	b.closeCalls.Add(1)
	b.down.Store(true)
	return nil
}

type fakeDialer struct {
	brokers []*fakeBroker
	fail    error
}

func (d *fakeDialer) dial(string, string) (broker, error) {
	if d.fail != nil {
		return nil, d.fail
	}
	b := &fakeBroker{}
	d.brokers = append(d.brokers, b)
	return b, nil
}

func orderPaid() events.Event {
	return events.Event{ID: uuid.New(), Topic: events.TopicOrderPaid, AggregateID: "order_A1", OccurredAt: time.Now().UTC()}
}

func TestAMQPNotifierRedialsAfterConnectionLoss(t *testing.T) {
	d := &fakeDialer{}
	n, err := newAMQPNotifier("amqp://broker", "", d.dial)
	require.NoError(t, err)
	require.Len(t, d.brokers, 1)

	require.NoError(t, n.Notify(context.Background(), orderPaid()))
	require.Equal(t, []string{"payments.events/" + events.TopicOrderPaid}, d.brokers[0].published)

	d.brokers[0].down.Store(true)
	require.NoError(t, n.Notify(context.Background(), orderPaid()))
	require.Len(t, d.brokers, 2)
	require.Len(t, d.brokers[1].published, 1)
}

func TestAMQPNotifierRetriesOnceWhenPublishHitsClosedConnection(t *testing.T) {
	d := &fakeDialer{}
	n, err := newAMQPNotifier("amqp://broker", "orders", d.dial)
	require.NoError(t, err)
	d.brokers[0].publishErr = amqp091.ErrClosed

	require.NoError(t, n.Notify(context.Background(), orderPaid()))
	require.Len(t, d.brokers, 2)
	require.Equal(t, int32(1), d.brokers[0].closeCalls.Load())
	require.Equal(t, []string{"orders/" + events.TopicOrderPaid}, d.brokers[1].published)
}

func TestAMQPNotifierKeepsRetryingDialAfterFailure(t *testing.T) {
	d := &fakeDialer{}
	n, err := newAMQPNotifier("amqp://broker", "", d.dial)
	require.NoError(t, err)
	d.brokers[0].down.Store(true)

	d.fail = errors.New("connection refused")
	require.ErrorContains(t, n.Notify(context.Background(), orderPaid()), "connection refused")

	d.fail = nil
	require.NoError(t, n.Notify(context.Background(), orderPaid()))
	require.Len(t, d.brokers, 2)
	require.NoError(t, n.Close())
}
