package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

// razorpayOrderAPI is the subset of the SDK order resource in use.
type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay adapts the Razorpay orders API and webhooks.
type Razorpay struct {
	Orders        razorpayOrderAPI
	WebhookSecret string
}

// NewRazorpay builds a client authenticated with the merchant key pair.
func NewRazorpay(keyID, keySecret, webhookSecret string) *Razorpay {
	client := razorpay.NewClient(keyID, keySecret)
	return &Razorpay{Orders: client.Order, WebhookSecret: webhookSecret}
}

// CreateOrder calls the orders API. The SDK is not context aware, so the call
// runs in its own goroutine and is abandoned when ctx ends.
func (r *Razorpay) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if r == nil || r.Orders == nil {
		return GatewayOrder{}, ErrNotConfigured
	}
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := r.Orders.Create(data, nil)
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return GatewayOrder{}, &ProviderError{Provider: ProviderRazorpay, Message: "provider request timed out", Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return GatewayOrder{}, razorpayError(res.body, res.err)
		}
		return parseRazorpayOrder(res.body)
	}
}

// razorpayError maps the SDK's error envelope onto ProviderError. The SDK
// returns the decoded body alongside the error when the API answered.
func razorpayError(body map[string]interface{}, err error) error {
	perr := &ProviderError{Provider: ProviderRazorpay, Message: err.Error(), Err: err}
	envelope, ok := body["error"].(map[string]interface{})
	if !ok {
		return perr
	}
	perr.Code = stringField(envelope, "code")
	if desc := stringField(envelope, "description"); desc != "" {
		perr.Message = desc
	}
	switch perr.Code {
	case "BAD_REQUEST_ERROR":
		perr.Status = http.StatusBadRequest
	case "GATEWAY_ERROR":
		perr.Status = http.StatusBadGateway
	case "SERVER_ERROR":
		perr.Status = http.StatusInternalServerError
	}
	return perr
}

func parseRazorpayOrder(body map[string]interface{}) (GatewayOrder, error) {
	id := stringField(body, "id")
	if id == "" {
		return GatewayOrder{}, &ProviderError{Provider: ProviderRazorpay, Message: "order response missing id"}
	}
	order := GatewayOrder{
		ID:         id,
		Entity:     stringField(body, "entity"),
		Amount:     intField(body, "amount"),
		AmountPaid: intField(body, "amount_paid"),
		AmountDue:  intField(body, "amount_due"),
		Currency:   stringField(body, "currency"),
		Receipt:    stringField(body, "receipt"),
		Status:     stringField(body, "status"),
		Attempts:   int(intField(body, "attempts")),
		CreatedAt:  intField(body, "created_at"),
		Notes:      map[string]string{},
	}
	// empty notes come back as a JSON array
	if notes, ok := body["notes"].(map[string]interface{}); ok {
		for k, v := range notes {
			order.Notes[k] = fmt.Sprint(v)
		}
	}
	return order, nil
}

// VerifyWebhook authenticates X-Razorpay-Signature over the raw body and
// extracts the payment entity.
func (r *Razorpay) VerifyWebhook(req *http.Request, body []byte) (WebhookVerifyResult, error) {
	if r == nil || r.WebhookSecret == "" {
		return WebhookVerifyResult{}, fmt.Errorf("%w: razorpay webhook secret", ErrNotConfigured)
	}
	signature := strings.TrimSpace(req.Header.Get("X-Razorpay-Signature"))
	if signature == "" || !utils.VerifyWebhookSignature(string(body), signature, r.WebhookSecret) {
		return WebhookVerifyResult{Valid: false}, nil
	}

	var payload struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID       string `json:"id"`
					OrderID  string `json:"order_id"`
					Amount   int64  `json:"amount"`
					Currency string `json:"currency"`
					Status   string `json:"status"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{}, invalidInput("razorpay webhook body: %v", err)
	}
	entity := payload.Payload.Payment.Entity
	res := WebhookVerifyResult{
		Valid:     true,
		Event:     payload.Event,
		OrderID:   entity.OrderID,
		PaymentID: entity.ID,
		Amount:    entity.Amount,
		Currency:  entity.Currency,
		Status:    WebhookIgnored,
	}
	switch payload.Event {
	case "payment.captured", "order.paid":
		res.Status = WebhookPaid
	case "payment.failed":
		res.Status = WebhookFailed
	}
	return res, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
