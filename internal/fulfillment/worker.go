// Package fulfillment consumes settlement tasks and announces paid orders.
package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/lock"
	"github.com/noah-isme/foodapp-backend/internal/payment"
	"github.com/noah-isme/foodapp-backend/internal/queue"
)

// Locker serialises work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

var _ Locker = lock.Locker{}

// Worker handles payment-settlement tasks.
type Worker struct {
	Bus     *events.Bus
	Locker  Locker
	LockTTL time.Duration
	Logger  *zerolog.Logger
}

// Handle publishes order.paid for the task's settlement. Undecodable payloads
// are dropped since retrying cannot fix them.
func (w Worker) Handle(ctx context.Context, task queue.Task) error {
	logger := w.logger().With().Str("kind", task.Kind).Int("attempt", task.Attempt).Logger()
	s, err := payment.DecodeSettlement(task.Payload)
	if err != nil {
		logger.Error().Err(err).Str("key", task.IdempotencyKey).Msg("fulfillment_payload_invalid")
		return nil
	}
	if w.Bus == nil {
		return errors.New("fulfillment: event bus not configured")
	}
	logger = logger.With().Str("order_id", s.OrderID).Str("payment_id", s.PaymentID).Logger()
	ctx = logger.WithContext(ctx)

	publish := func(ctx context.Context) error {
		return payment.PublishOrderPaid(ctx, w.Bus, s)
	}
	if w.Locker != nil {
		ttl := w.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		err = w.Locker.WithLock(ctx, "settlement:"+s.Key(), ttl, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("fulfillment_publish_failed")
		return err
	}
	logger.Info().Str("source", s.Source).Msg("fulfillment_order_paid")
	return nil
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	l := zerolog.Nop()
	return &l
}
