package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/foodapp-backend/internal/obs"
)

// VerificationState is the lifecycle of a verification request.
type VerificationState string

const (
	StateReceived VerificationState = "RECEIVED"
	StateVerified VerificationState = "VERIFIED"
	StateSettled  VerificationState = "SETTLED"
	StateRejected VerificationState = "REJECTED"
)

// VerificationRequest is a client-submitted payment confirmation.
type VerificationRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Outcome describes where a verification ended up.
type Outcome struct {
	State VerificationState
	// AlreadySettled is set when another request settled the pair first.
	AlreadySettled bool
	// Reason is ErrSignatureMismatch for rejected signatures.
	Reason error
	// SettlementErr is set when the payment verified but the hand-off failed.
	// The claim has been released so a retry can settle.
	SettlementErr error
}

// Verifier authenticates payment confirmations and settles each verified
// (orderId, paymentId) pair at most once.
type Verifier struct {
	Signer   Signer
	Ledger   SettlementLedger
	Settler  Settler
	Recorder Recorder
	Now      func() time.Time
}

// Verify checks the signature in constant time and, on a match, settles the pair.
func (v *Verifier) Verify(ctx context.Context, req VerificationRequest) (out Outcome, err error) {
	out = Outcome{State: StateReceived}
	if v == nil || !v.Signer.Configured() || v.Ledger == nil || v.Settler == nil {
		return out, ErrNotConfigured
	}
	ctx, span := otel.Tracer("payment.Verifier").Start(ctx, "payment.Verify")
	defer func() {
		span.SetAttributes(
			attribute.String("payment.order_id", req.OrderID),
			attribute.String("payment.state", string(out.State)),
			attribute.Bool("payment.already_settled", out.AlreadySettled),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if obs.PaymentVerificationTotal != nil {
			obs.PaymentVerificationTotal.WithLabelValues(verificationLabel(out, err)).Inc()
		}
	}()

	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.PaymentID) == "" || strings.TrimSpace(req.Signature) == "" {
		out.State = StateRejected
		return out, invalidInput("order id, payment id and signature are required")
	}
	ok, err := v.Signer.Verify(req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		out.State = StateRejected
		return out, err
	}
	if !ok {
		out.State = StateRejected
		out.Reason = ErrSignatureMismatch
		v.record(ctx, ProviderRazorpay, req.OrderID, req.PaymentID, out)
		return out, nil
	}

	out.State = StateVerified
	out = v.settle(ctx, out, Settlement{
		OrderID:    req.OrderID,
		PaymentID:  req.PaymentID,
		Source:     "verify",
		VerifiedAt: v.now(),
	})
	v.record(ctx, ProviderRazorpay, req.OrderID, req.PaymentID, out)
	return out, nil
}

// Settle runs the VERIFIED to SETTLED transition for a pair whose authenticity
// was already established elsewhere, such as a signed provider webhook.
func (v *Verifier) Settle(ctx context.Context, s Settlement) (Outcome, error) {
	if v == nil || v.Ledger == nil || v.Settler == nil {
		return Outcome{State: StateReceived}, ErrNotConfigured
	}
	if strings.TrimSpace(s.OrderID) == "" || strings.TrimSpace(s.PaymentID) == "" {
		return Outcome{State: StateRejected}, invalidInput("order id and payment id are required")
	}
	if s.VerifiedAt.IsZero() {
		s.VerifiedAt = v.now()
	}
	out := v.settle(ctx, Outcome{State: StateVerified}, s)
	v.record(ctx, providerFromSource(s.Source), s.OrderID, s.PaymentID, out)
	return out, nil
}

func (v *Verifier) settle(ctx context.Context, out Outcome, s Settlement) Outcome {
	key := s.Key()
	claimed, err := v.Ledger.Claim(ctx, key)
	if err != nil {
		out.SettlementErr = fmt.Errorf("claim settlement: %w", err)
		settlementMetric(s.Source, "ledger_error")
		return out
	}
	if !claimed {
		out.State = StateSettled
		out.AlreadySettled = true
		settlementMetric(s.Source, "duplicate")
		return out
	}

	if err := v.Settler.Settle(ctx, s); err != nil {
		out.SettlementErr = err
		// the caller's context may be gone; the release must still happen
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := v.Ledger.Release(releaseCtx, key); relErr != nil {
			out.SettlementErr = errors.Join(err, fmt.Errorf("release settlement claim: %w", relErr))
		}
		settlementMetric(s.Source, "failed")
		return out
	}

	out.State = StateSettled
	if err := v.Ledger.Confirm(ctx, key); err != nil {
		// settled, but the claim may expire and let a duplicate through
		out.SettlementErr = fmt.Errorf("confirm settlement: %w", err)
	}
	settlementMetric(s.Source, "settled")
	return out
}

func (v *Verifier) record(ctx context.Context, provider, orderID, paymentID string, out Outcome) {
	if v.Recorder == nil {
		return
	}
	rec := AuditRecord{
		Kind:      RecordVerification,
		Provider:  provider,
		Reference: orderID,
		PaymentID: paymentID,
		Status:    string(out.State),
		CreatedAt: v.now(),
	}
	if err := v.Recorder.Record(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("kind", rec.Kind).Str("reference", rec.Reference).Msg("payment_audit_failed")
	}
}

// providerFromSource maps "webhook:<provider>" sources back to the provider.
func providerFromSource(source string) string {
	if p, ok := strings.CutPrefix(source, "webhook:"); ok && p != "" {
		return p
	}
	return ProviderRazorpay
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func verificationLabel(out Outcome, err error) string {
	switch {
	case err != nil && errors.Is(err, ErrInvalidInput):
		return "invalid"
	case err != nil:
		return "error"
	case out.State == StateRejected:
		return "rejected"
	case out.AlreadySettled:
		return "already_settled"
	case out.State == StateSettled:
		return "settled"
	default:
		return "verified"
	}
}

func settlementMetric(source, result string) {
	if obs.PaymentSettlementTotal != nil {
		obs.PaymentSettlementTotal.WithLabelValues(normaliseLabel(source), result).Inc()
	}
}
