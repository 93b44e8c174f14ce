package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// MetadataOrderKey links a card intent back to the merchant order in webhooks.
const MetadataOrderKey = "order_id"

// stripeIntentAPI is the subset of the SDK payment intent client in use.
type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Stripe adapts the Stripe PaymentIntents API and webhooks.
type Stripe struct {
	Intents       stripeIntentAPI
	WebhookSecret string
}

// NewStripe builds a client scoped to secretKey rather than the package-global stripe.Key.
func NewStripe(secretKey, webhookSecret string) *Stripe {
	sc := client.New(secretKey, nil)
	return &Stripe{Intents: sc.PaymentIntents, WebhookSecret: webhookSecret}
}

// CreateIntent creates a payment intent and returns its client secret.
func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if s == nil || s.Intents == nil {
		return IntentResponse{}, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
	}
	if req.AutomaticPaymentMethods {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := s.Intents.New(params)
	if err != nil {
		return IntentResponse{}, stripeError(ctx, err)
	}
	if pi == nil || pi.ClientSecret == "" {
		return IntentResponse{}, &ProviderError{Provider: ProviderStripe, Message: "intent response missing client secret"}
	}
	return IntentResponse{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func stripeError(ctx context.Context, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return &ProviderError{
			Provider: ProviderStripe,
			Status:   serr.HTTPStatusCode,
			Code:     string(serr.Code),
			Message:  serr.Msg,
			Err:      err,
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ProviderError{Provider: ProviderStripe, Message: "provider request timed out", Err: errors.Join(ctxErr, err)}
	}
	return &ProviderError{Provider: ProviderStripe, Message: err.Error(), Err: err}
}

// VerifyWebhook authenticates the Stripe-Signature header and maps payment
// intent events. The merchant order comes from intent metadata, falling back
// to the intent id.
func (s *Stripe) VerifyWebhook(req *http.Request, body []byte) (WebhookVerifyResult, error) {
	if s == nil || s.WebhookSecret == "" {
		return WebhookVerifyResult{}, fmt.Errorf("%w: stripe webhook secret", ErrNotConfigured)
	}
	event, err := webhook.ConstructEvent(body, req.Header.Get("Stripe-Signature"), s.WebhookSecret)
	if err != nil {
		return WebhookVerifyResult{Valid: false}, nil
	}

	res := WebhookVerifyResult{Valid: true, Event: string(event.Type), Status: WebhookIgnored}
	switch event.Type {
	case "payment_intent.succeeded":
		res.Status = WebhookPaid
	case "payment_intent.payment_failed":
		res.Status = WebhookFailed
	default:
		return res, nil
	}
	if event.Data == nil {
		return WebhookVerifyResult{}, invalidInput("stripe webhook missing data")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return WebhookVerifyResult{}, invalidInput("stripe webhook intent: %v", err)
	}
	res.PaymentID = pi.ID
	res.OrderID = pi.Metadata[MetadataOrderKey]
	if res.OrderID == "" {
		res.OrderID = pi.ID
	}
	res.Amount = pi.Amount
	res.Currency = string(pi.Currency)
	return res, nil
}
