package payment

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

// PaymentOrder is a gateway order as returned to the client.
type PaymentOrder struct {
	OrderID     string
	Entity      string
	AmountMinor int64
	AmountPaid  int64
	AmountDue   int64
	Currency    string
	Receipt     string
	Status      string
	Attempts    int
	Metadata    map[string]string
	CreatedAt   int64
}

// OrderService creates gateway orders.
type OrderService struct {
	Gateway         Gateway
	DefaultCurrency string
	Timeout         time.Duration
	Breaker         *resilience.Breaker
	Recorder        Recorder
	Now             func() time.Time
}

// CreateOrder converts amount to minor units, generates a receipt and calls
// the gateway once. Invalid amounts never reach the gateway.
func (s *OrderService) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (order PaymentOrder, err error) {
	if s == nil || s.Gateway == nil {
		return PaymentOrder{}, ErrNotConfigured
	}
	ctx, span := otel.Tracer("payment.OrderService").Start(ctx, "payment.CreateOrder")
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", ProviderRazorpay),
			attribute.String("payment.currency", order.Currency),
			attribute.String("payment.order_id", order.OrderID),
			attribute.String("payment.result", resultLabel(err)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if obs.PaymentOrderTotal != nil {
			obs.PaymentOrderTotal.WithLabelValues(ProviderRazorpay, resultLabel(err)).Inc()
		}
	}()

	fallback := s.DefaultCurrency
	if fallback == "" {
		fallback = "INR"
	}
	code, err := NormalizeCurrency(currency, fallback)
	if err != nil {
		return PaymentOrder{}, err
	}
	minor, err := ToMinorUnits(amount, code)
	if err != nil {
		return PaymentOrder{}, err
	}

	req := GatewayOrderRequest{
		AmountMinor: minor,
		Currency:    code,
		Receipt:     newReceipt(s.now()),
		Notes:       cloneMetadata(metadata),
	}
	var created GatewayOrder
	err = invoke(ctx, ProviderRazorpay, "create_order", s.Breaker, s.Timeout, func(ctx context.Context) error {
		var callErr error
		created, callErr = s.Gateway.CreateOrder(ctx, req)
		return callErr
	})
	if err != nil {
		return PaymentOrder{}, err
	}

	order = PaymentOrder{
		OrderID:     created.ID,
		Entity:      created.Entity,
		AmountMinor: created.Amount,
		AmountPaid:  created.AmountPaid,
		AmountDue:   created.AmountDue,
		Currency:    created.Currency,
		Receipt:     created.Receipt,
		Status:      created.Status,
		Attempts:    created.Attempts,
		Metadata:    created.Notes,
		CreatedAt:   created.CreatedAt,
	}
	if order.Entity == "" {
		order.Entity = "order"
	}
	if order.AmountMinor == 0 {
		order.AmountMinor = minor
		order.AmountDue = minor
	}
	if order.Currency == "" {
		order.Currency = code
	}
	if order.Receipt == "" {
		order.Receipt = req.Receipt
	}
	if len(order.Metadata) == 0 {
		order.Metadata = req.Notes
	}

	s.record(ctx, AuditRecord{
		Kind:        RecordOrder,
		Provider:    ProviderRazorpay,
		Reference:   order.OrderID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Receipt:     order.Receipt,
		Status:      order.Status,
		Metadata:    order.Metadata,
		CreatedAt:   s.now(),
	})
	return order, nil
}

func (s *OrderService) record(ctx context.Context, rec AuditRecord) {
	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.Record(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("kind", rec.Kind).Str("reference", rec.Reference).Msg("payment_audit_failed")
	}
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// newReceipt returns rcpt_<unix millis>_<12 hex chars>. The random suffix keeps
// receipts unique when two orders are created within the same millisecond.
func newReceipt(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("rcpt_%d_%s", now.UnixMilli(), hex.EncodeToString(id[:6]))
}
