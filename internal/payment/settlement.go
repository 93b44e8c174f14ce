package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/foodapp-backend/internal/common"
	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/queue"
)

// SettlementTaskKind is the queue kind consumed by the fulfillment worker.
const SettlementTaskKind = "payment-settlement"

// Settlement is the hand-off for a verified payment.
type Settlement struct {
	OrderID    string    `json:"orderId"`
	PaymentID  string    `json:"paymentId"`
	Source     string    `json:"source"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Key returns the ledger key of the settled pair.
func (s Settlement) Key() string { return SettlementKey(s.OrderID, s.PaymentID) }

// EventID derives a stable event identity from the pair so every redelivery
// of the same settlement carries the same ID.
func (s Settlement) EventID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("settlement:"+s.Key()))
}

// DecodeSettlement parses a settlement task payload.
func DecodeSettlement(raw []byte) (Settlement, error) {
	var s Settlement
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settlement{}, fmt.Errorf("%w: settlement payload: %v", ErrInvalidInput, err)
	}
	if s.OrderID == "" || s.PaymentID == "" {
		return Settlement{}, invalidInput("settlement payload missing identifiers")
	}
	return s, nil
}

// Settler performs the post-verification side effect for a pair.
type Settler interface {
	Settle(ctx context.Context, s Settlement) error
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, s Settlement) error

// Settle implements Settler.
func (f SettlerFunc) Settle(ctx context.Context, s Settlement) error { return f(ctx, s) }

// TaskEnqueuer is satisfied by queue.Enqueuer.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// QueueSettler hands settlements to the fulfillment worker through the Redis
// work queue. Delivery is at-least-once; the pair hash is the dedup key.
type QueueSettler struct {
	Queue       TaskEnqueuer
	MaxAttempts int
}

// Settle enqueues the settlement task.
func (q QueueSettler) Settle(ctx context.Context, s Settlement) error {
	if q.Queue == nil {
		return errors.New("payment: settlement queue not configured")
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return q.Queue.Enqueue(ctx, queue.Task{
		Kind:           SettlementTaskKind,
		Payload:        payload,
		IdempotencyKey: common.Sha256Hex(s.Key()),
		MaxAttempts:    q.MaxAttempts,
	})
}

// DirectSettler publishes order.paid in-process, for deployments without a
// work queue.
type DirectSettler struct {
	Bus *events.Bus
}

// Settle publishes the order.paid event.
func (d DirectSettler) Settle(ctx context.Context, s Settlement) error {
	return PublishOrderPaid(ctx, d.Bus, s)
}

// PublishOrderPaid emits the order.paid event for a settlement.
func PublishOrderPaid(ctx context.Context, bus *events.Bus, s Settlement) error {
	if bus == nil {
		return errors.New("payment: event bus not configured")
	}
	ev, err := bus.NewEventWithID(s.EventID(), events.TopicOrderPaid, s.OrderID, s)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, ev)
}
