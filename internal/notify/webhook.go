package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

// Doer sends one outbound request; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// WebhookNotifier posts signed events to a fulfillment endpoint.
type WebhookNotifier struct {
	URL    string
	Secret string
	HTTP   Doer
	// Topics limits delivery to the listed topics; empty means all.
	Topics []string
	Now    func() time.Time
}

type webhookPayload struct {
	EventID     string          `json:"eventId"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Notify delivers the event. Non-2xx responses are errors so the queue retries.
func (n *WebhookNotifier) Notify(ctx context.Context, ev events.Event) (err error) {
	if n == nil || n.URL == "" || !n.subscribed(ev.Topic) {
		return nil
	}
	if n.HTTP == nil {
		return errors.New("notify: webhook http client not configured")
	}
	start := time.Now()
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "WebhookNotifier.Notify")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		observe("webhook", err, start)
	}()
	span.SetAttributes(
		attribute.String("event.id", ev.ID.String()),
		attribute.String("event.topic", ev.Topic),
	)

	if err := validateURL(n.URL); err != nil {
		return err
	}
	body, err := json.Marshal(webhookPayload{
		EventID:     ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return err
	}
	ts := n.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	eventID := ev.ID.String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "foodapp-fulfillment/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	// receivers deduplicate redeliveries on the stable event id
	req.Header.Set("X-Idempotency-Key", eventID)
	req.Header.Set("X-Signature", ComputeSignature(n.Secret, ts, eventID, body))

	resp, err := n.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook responded %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) subscribed(topic string) bool {
	if len(n.Topics) == 0 {
		return true
	}
	for _, t := range n.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (n *WebhookNotifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// NewResilientClient returns a traced client that retries failed deliveries
// behind breaker.
func NewResilientClient(timeout time.Duration, attempts int, breaker *resilience.Breaker) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      newHTTPClient(timeout),
		Breaker:     breaker,
		MaxAttempts: attempts,
		Jitter:      0.2,
		Timeout:     timeout,
		Target:      "fulfillment-webhook",
	}
}

func observe(notifier string, err error, start time.Time) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	if obs.FulfillmentDeliveriesTotal != nil {
		obs.FulfillmentDeliveriesTotal.WithLabelValues(notifier, result).Inc()
	}
	if obs.FulfillmentAttemptLatency != nil {
		obs.FulfillmentAttemptLatency.WithLabelValues(notifier).Observe(obs.DurationMillis(time.Since(start)))
	}
}
