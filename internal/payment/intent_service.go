package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/foodapp-backend/internal/common"
	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

// PaymentIntent is a card payment intent. ClientSecret must not be logged or stored.
type PaymentIntent struct {
	IntentID     string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       string
	Metadata     map[string]string
}

// IntentService creates card payment intents.
type IntentService struct {
	Provider                IntentProvider
	DefaultCurrency         string
	AutomaticPaymentMethods bool
	Timeout                 time.Duration
	Breaker                 *resilience.Breaker
	Recorder                Recorder
}

// CreateIntent converts amount to minor units, rounding half away from zero,
// and asks the provider for an intent. A client idempotency key makes the
// provider call repeatable; without one every call gets a fresh key.
func (s *IntentService) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string, idempotencyKey string) (intent PaymentIntent, err error) {
	if s == nil || s.Provider == nil {
		return PaymentIntent{}, ErrNotConfigured
	}
	ctx, span := otel.Tracer("payment.IntentService").Start(ctx, "payment.CreateIntent")
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", ProviderStripe),
			attribute.String("payment.currency", intent.Currency),
			attribute.String("payment.intent_id", intent.IntentID),
			attribute.String("payment.result", resultLabel(err)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(ProviderStripe, normaliseLabel(intent.Currency), resultLabel(err)).Inc()
		}
	}()

	fallback := s.DefaultCurrency
	if fallback == "" {
		fallback = "usd"
	}
	code, err := NormalizeCurrency(currency, fallback)
	if err != nil {
		return PaymentIntent{}, err
	}
	minor, err := ToMinorUnits(amount, code)
	if err != nil {
		return PaymentIntent{}, err
	}

	req := IntentRequest{
		AmountMinor:             minor,
		Currency:                strings.ToLower(code),
		Metadata:                cloneMetadata(metadata),
		AutomaticPaymentMethods: s.AutomaticPaymentMethods,
		IdempotencyKey:          providerIdempotencyKey(idempotencyKey),
	}
	var created IntentResponse
	err = invoke(ctx, ProviderStripe, "create_intent", s.Breaker, s.Timeout, func(ctx context.Context) error {
		var callErr error
		created, callErr = s.Provider.CreateIntent(ctx, req)
		return callErr
	})
	if err != nil {
		return PaymentIntent{}, err
	}

	intent = PaymentIntent{
		IntentID:     created.ID,
		ClientSecret: created.ClientSecret,
		AmountMinor:  minor,
		Currency:     req.Currency,
		Status:       created.Status,
		Metadata:     req.Metadata,
	}
	if s.Recorder != nil {
		rec := AuditRecord{
			Kind:        RecordIntent,
			Provider:    ProviderStripe,
			Reference:   intent.IntentID,
			AmountMinor: intent.AmountMinor,
			Currency:    intent.Currency,
			Status:      intent.Status,
			Metadata:    intent.Metadata,
			CreatedAt:   time.Now(),
		}
		if recErr := s.Recorder.Record(ctx, rec); recErr != nil {
			zerolog.Ctx(ctx).Warn().Err(recErr).Str("kind", rec.Kind).Str("reference", rec.Reference).Msg("payment_audit_failed")
		}
	}
	return intent, nil
}

// providerIdempotencyKey scopes a client key to intent creation so the same
// header value sent to another route never collides at Stripe.
func providerIdempotencyKey(clientKey string) string {
	if clientKey == "" {
		return uuid.NewString()
	}
	return "intent_" + common.Sha256Hex("create-payment-intent", clientKey)
}
