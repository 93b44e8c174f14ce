package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/foodapp-backend/internal/common"
)

const maxMetadataValue = 500

// Handler exposes the payment HTTP surface.
type Handler struct {
	Orders   *OrderService
	Intents  *IntentService
	Verifier *Verifier
	Validate *validator.Validate
}

// NewHandler wires the services with a shared validator.
func NewHandler(orders *OrderService, intents *IntentService, verifier *Verifier) *Handler {
	return &Handler{Orders: orders, Intents: intents, Verifier: verifier, Validate: validator.New()}
}

type amountRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3,alpha"`
	// Metadata values may be any JSON scalar; they are stored as strings.
	Metadata map[string]any `json:"metadata" validate:"omitempty,max=15,dive,keys,min=1,max=40,endkeys"`
	notes    map[string]string
}

type orderResponse struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

type verifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required,max=128"`
	PaymentID string `json:"razorpay_payment_id" validate:"required,max=128"`
	Signature string `json:"razorpay_signature" validate:"required,max=256"`
}

type verifyResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Status         string `json:"status,omitempty"`
	AlreadySettled bool   `json:"alreadySettled,omitempty"`
}

type intentResponse struct {
	ClientSecret string `json:"clientSecret"`
	ID           string `json:"id"`
}

// CreateOrder handles POST /create-order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.Orders.CreateOrder(r.Context(), req.Amount, req.Currency, req.notes)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	common.JSON(w, http.StatusOK, orderResponse{
		ID:         order.OrderID,
		Entity:     order.Entity,
		Amount:     order.AmountMinor,
		AmountPaid: order.AmountPaid,
		AmountDue:  order.AmountDue,
		Currency:   order.Currency,
		Receipt:    order.Receipt,
		Status:     order.Status,
		Attempts:   order.Attempts,
		Notes:      order.Metadata,
		CreatedAt:  order.CreatedAt,
	})
}

// CreatePaymentIntent handles POST /create-payment-intent.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	intent, err := h.Intents.CreateIntent(r.Context(), req.Amount, req.Currency, req.notes, r.Header.Get(common.IdempotencyHeader))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	common.JSON(w, http.StatusOK, intentResponse{ClientSecret: intent.ClientSecret, ID: intent.IntentID})
}

// VerifyPayment handles POST /verify-payment.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, verifyResponse{Message: "invalid JSON body"})
		return
	}
	if err := h.validator().Struct(req); err != nil {
		common.JSON(w, http.StatusBadRequest, verifyResponse{
			Message: "razorpay_order_id, razorpay_payment_id and razorpay_signature are required",
		})
		return
	}

	out, err := h.Verifier.Verify(r.Context(), VerificationRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	logger := zerolog.Ctx(r.Context())
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSON(w, http.StatusBadRequest, verifyResponse{Message: "invalid verification request"})
		return
	case err != nil:
		logger.Error().Err(err).Msg("payment_verification_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	case out.State == StateRejected:
		logger.Warn().Str("order_id", req.OrderID).Msg("payment_signature_mismatch")
		common.JSON(w, http.StatusBadRequest, verifyResponse{Message: "Invalid signature"})
		return
	}

	if out.SettlementErr != nil {
		logger.Error().Err(out.SettlementErr).
			Str("order_id", req.OrderID).
			Str("payment_id", req.PaymentID).
			Str("state", string(out.State)).
			Msg("payment_settlement_failed")
	}
	msg := "Payment verified successfully"
	if out.State == StateVerified {
		msg = "Payment verified successfully; settlement pending"
	}
	common.JSON(w, http.StatusOK, verifyResponse{
		Success:        true,
		Message:        msg,
		Status:         string(out.State),
		AlreadySettled: out.AlreadySettled,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req *amountRequest) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body", nil)
		return false
	}
	if err := h.validator().Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid currency or metadata", nil)
		return false
	}
	notes, err := stringifyMetadata(req.Metadata)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid currency or metadata", nil)
		return false
	}
	req.notes = notes
	return true
}

// stringifyMetadata flattens JSON scalars to the string form both providers
// store. Nested objects and arrays are rejected; nulls are dropped.
func stringifyMetadata(in map[string]any) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		var s string
		switch val := v.(type) {
		case nil:
			continue
		case string:
			s = val
		case json.Number:
			s = val.String()
		case bool:
			s = strconv.FormatBool(val)
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("metadata %q: unsupported value type %T", k, v)
		}
		if len(s) > maxMetadataValue {
			return nil, fmt.Errorf("metadata %q: value longer than %d bytes", k, maxMetadataValue)
		}
		out[k] = s
	}
	return out, nil
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		h.Validate = validator.New()
	}
	return h.Validate
}

// writeError logs provider detail server-side and renders a sanitised body.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	common.WriteError(w, toAppError(ctx, err))
}

func toAppError(ctx context.Context, err error) error {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return common.NewAppError("INVALID_AMOUNT", "amount must be a positive value", http.StatusBadRequest, err)
	case errors.Is(err, ErrInvalidInput):
		return common.NewAppError("INVALID_INPUT", "invalid request", http.StatusBadRequest, err)
	case errors.As(err, &perr):
		zerolog.Ctx(ctx).Error().
			Str("provider", perr.Provider).
			Int("provider_status", perr.Status).
			Str("provider_code", perr.Code).
			Err(err).
			Msg("payment_provider_error")
		return common.NewAppError("PAYMENT_PROVIDER_ERROR", "payment provider request failed", http.StatusBadGateway, err)
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("payment_internal_error")
		return err
	}
}
