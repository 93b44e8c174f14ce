package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/foodapp-backend/internal/common"
	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/obs"
)

// ReplayGuard rejects webhook bodies that were already processed.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Webhook handles POST /webhooks/payment/{provider}.
type Webhook struct {
	Providers map[string]WebhookVerifier
	Verifier  *Verifier
	Replay    ReplayGuard
	ReplayTTL time.Duration
	// Bus receives payment.failed events; optional.
	Bus     *events.Bus
	MaxBody int64
}

// Handle authenticates the callback, drops replays and settles paid events.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	verifier, ok := h.Providers[provider]
	if !ok || verifier == nil {
		webhookMetric(provider, "unknown_provider")
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown payment provider", nil)
		return
	}
	logger := zerolog.Ctx(r.Context()).With().Str("provider", provider).Logger()

	maxBody := h.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		webhookMetric(provider, "too_large")
		common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook body too large", nil)
		return
	}
	if err != nil {
		webhookMetric(provider, "bad_request")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read body", nil)
		return
	}

	result, err := verifier.VerifyWebhook(r, body)
	switch {
	case errors.Is(err, ErrNotConfigured):
		logger.Error().Err(err).Msg("payment_webhook_unconfigured")
		webhookMetric(provider, "unconfigured")
		common.JSONError(w, http.StatusServiceUnavailable, "WEBHOOK_DISABLED", "webhook not configured", nil)
		return
	case err != nil:
		webhookMetric(provider, "bad_request")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed webhook payload", nil)
		return
	case !result.Valid:
		webhookMetric(provider, "invalid_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature", nil)
		return
	}

	replayKey := fmt.Sprintf("wh:%s:%s", provider, common.Sha256Hex(string(body)))
	if h.Replay != nil {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := h.Replay.Acquire(r.Context(), replayKey, ttl)
		if err != nil {
			logger.Error().Err(err).Msg("payment_webhook_replay_guard_failed")
			webhookMetric(provider, "error")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
			return
		}
		if !fresh {
			webhookMetric(provider, "replay")
			common.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	switch result.Status {
	case WebhookPaid:
		h.settle(w, r, logger, provider, replayKey, result)
	case WebhookFailed:
		if h.Bus != nil && result.OrderID != "" {
			if _, err := h.Bus.Emit(r.Context(), events.TopicPaymentFailed, result.OrderID, map[string]any{
				"provider":  provider,
				"paymentId": result.PaymentID,
				"event":     result.Event,
			}); err != nil {
				logger.Warn().Err(err).Str("order_id", result.OrderID).Msg("payment_failed_event_error")
			}
		}
		webhookMetric(provider, "failed")
		w.WriteHeader(http.StatusNoContent)
	default:
		webhookMetric(provider, "ignored")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Webhook) settle(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, provider, replayKey string, result WebhookVerifyResult) {
	if h.Verifier == nil {
		webhookMetric(provider, "error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	out, err := h.Verifier.Settle(r.Context(), Settlement{
		OrderID:   result.OrderID,
		PaymentID: result.PaymentID,
		Source:    "webhook:" + provider,
	})
	if err == nil && out.SettlementErr == nil {
		webhookMetric(provider, "settled")
		common.JSON(w, http.StatusOK, map[string]any{
			"status":         string(out.State),
			"alreadySettled": out.AlreadySettled,
		})
		return
	}

	if errors.Is(err, ErrInvalidInput) {
		webhookMetric(provider, "bad_request")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "webhook missing payment identifiers", nil)
		return
	}
	if err == nil {
		err = out.SettlementErr
	}
	logger.Error().Err(err).Str("order_id", result.OrderID).Str("payment_id", result.PaymentID).Msg("payment_webhook_settlement_failed")
	// let the provider's retry through the replay guard
	if h.Replay != nil {
		if relErr := h.Replay.Release(context.WithoutCancel(r.Context()), replayKey); relErr != nil {
			logger.Warn().Err(relErr).Msg("payment_webhook_replay_release_failed")
		}
	}
	webhookMetric(provider, "error")
	common.JSONError(w, http.StatusInternalServerError, "SETTLEMENT_FAILED", "settlement failed", nil)
}

func webhookMetric(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(normaliseLabel(provider), result).Inc()
	}
}
