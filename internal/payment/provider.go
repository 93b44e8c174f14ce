package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

const defaultProviderTimeout = 10 * time.Second

// Provider names used for metrics, spans and webhook routing.
const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// GatewayOrderRequest is the provider-facing payload for an order.
type GatewayOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder is the provider's view of a created order.
type GatewayOrder struct {
	ID         string
	Entity     string
	Amount     int64
	AmountPaid int64
	AmountDue  int64
	Currency   string
	Receipt    string
	Status     string
	Attempts   int
	Notes      map[string]string
	CreatedAt  int64
}

// Gateway creates orders that a client-side checkout later completes.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
}

// IntentRequest is the provider-facing payload for a card payment intent.
type IntentRequest struct {
	AmountMinor             int64
	Currency                string
	Metadata                map[string]string
	AutomaticPaymentMethods bool
	IdempotencyKey          string
}

// IntentResponse carries the provider's intent. ClientSecret is handed to the
// client and never persisted.
type IntentResponse struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// IntentProvider creates card payment intents.
type IntentProvider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
}

// WebhookStatus is the normalised meaning of a provider callback.
type WebhookStatus string

const (
	WebhookPaid    WebhookStatus = "PAID"
	WebhookFailed  WebhookStatus = "FAILED"
	WebhookIgnored WebhookStatus = "IGNORED"
)

// WebhookVerifyResult is the outcome of authenticating and parsing a callback.
type WebhookVerifyResult struct {
	Valid     bool
	Event     string
	OrderID   string
	PaymentID string
	Amount    int64
	Currency  string
	Status    WebhookStatus
}

// WebhookVerifier authenticates provider callbacks.
type WebhookVerifier interface {
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}

// invoke runs call under the provider timeout and breaker, normalising every
// failure into a *ProviderError and recording latency.
func invoke(ctx context.Context, provider, operation string, breaker *resilience.Breaker, timeout time.Duration, call func(context.Context) error) error {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	run := func(c context.Context) error { return asProviderError(c, provider, call(c)) }
	var err error
	if breaker != nil {
		err = breaker.Execute(callCtx, run, func(err error) bool {
			var perr *ProviderError
			return errors.As(err, &perr) && perr.Rejected()
		})
	} else {
		err = run(callCtx)
	}
	if obs.PaymentProviderLatency != nil {
		obs.PaymentProviderLatency.WithLabelValues(provider, operation).Observe(obs.DurationMillis(time.Since(start)))
	}
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return &ProviderError{Provider: provider, Message: "provider temporarily unavailable", Err: err}
	}
	return err
}

func asProviderError(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ProviderError{Provider: provider, Message: "provider request timed out", Err: errors.Join(ctxErr, err)}
	}
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

func normaliseLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.As(err, &perr) && perr.Rejected():
		return "rejected"
	case errors.As(err, &perr):
		return "provider_error"
	default:
		return "error"
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
