package payment_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/payment"
)

func TestCreateIntentRoundsHalfAwayFromZero(t *testing.T) {
	provider := &fakeIntents{}
	svc := &payment.IntentService{Provider: provider, DefaultCurrency: "usd", AutomaticPaymentMethods: true}

	intent, err := svc.CreateIntent(context.Background(), decimal.RequireFromString("10.005"), "", map[string]string{"order_id": "o-1"}, "")
	require.NoError(t, err)
	require.Equal(t, "pi_test_1", intent.IntentID)
	require.Equal(t, "pi_test_1_secret_abc", intent.ClientSecret)
	require.Equal(t, int64(1001), intent.AmountMinor)
	require.Equal(t, "usd", intent.Currency)

	require.Len(t, provider.calls, 1)
	call := provider.calls[0]
	require.Equal(t, int64(1001), call.AmountMinor)
	require.Equal(t, "usd", call.Currency)
	require.True(t, call.AutomaticPaymentMethods)
	require.NotEmpty(t, call.IdempotencyKey)
	require.Equal(t, "o-1", call.Metadata["order_id"])
}

func TestCreateIntentLowercasesCurrency(t *testing.T) {
	provider := &fakeIntents{}
	svc := &payment.IntentService{Provider: provider}

	intent, err := svc.CreateIntent(context.Background(), decimal.NewFromInt(1500), "JPY", nil, "")
	require.NoError(t, err)
	require.Equal(t, "jpy", intent.Currency)
	require.Equal(t, int64(1500), intent.AmountMinor)
}

func TestCreateIntentRejectsInvalidAmount(t *testing.T) {
	provider := &fakeIntents{}
	svc := &payment.IntentService{Provider: provider}

	_, err := svc.CreateIntent(context.Background(), decimal.Zero, "usd", nil, "")
	require.ErrorIs(t, err, payment.ErrInvalidAmount)
	require.Empty(t, provider.calls)
}

func TestCreateIntentSurfacesProviderReason(t *testing.T) {
	provider := &fakeIntents{err: &payment.ProviderError{
		Provider: payment.ProviderStripe,
		Status:   http.StatusPaymentRequired,
		Code:     "amount_too_small",
		Message:  "Amount must be at least $0.50 usd",
	}}
	svc := &payment.IntentService{Provider: provider}

	_, err := svc.CreateIntent(context.Background(), decimal.RequireFromString("0.10"), "usd", nil, "")
	var perr *payment.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "amount_too_small", perr.Code)
	require.True(t, perr.Rejected())
}

func TestCreateIntentNeverRecordsClientSecret(t *testing.T) {
	rec := &memoryRecorder{}
	svc := &payment.IntentService{Provider: &fakeIntents{}, Recorder: rec}

	_, err := svc.CreateIntent(context.Background(), decimal.NewFromInt(20), "usd", nil, "")
	require.NoError(t, err)
	require.Len(t, rec.records, 1)
	require.Equal(t, "pi_test_1", rec.records[0].Reference)
	require.NotContains(t, rec.records[0].Status, "secret")
	for _, v := range rec.records[0].Metadata {
		require.NotContains(t, v, "secret")
	}
}

func TestCreateIntentDerivesProviderKeyFromClientKey(t *testing.T) {
	provider := &fakeIntents{}
	svc := &payment.IntentService{Provider: provider, DefaultCurrency: "usd"}

	for i := 0; i < 2; i++ {
		_, err := svc.CreateIntent(context.Background(), decimal.NewFromInt(5), "", nil, "checkout-42")
		require.NoError(t, err)
	}
	_, err := svc.CreateIntent(context.Background(), decimal.NewFromInt(5), "", nil, "checkout-43")
	require.NoError(t, err)

	require.Len(t, provider.calls, 3)
	require.Equal(t, provider.calls[0].IdempotencyKey, provider.calls[1].IdempotencyKey)
	require.NotEqual(t, provider.calls[0].IdempotencyKey, provider.calls[2].IdempotencyKey)
	require.NotContains(t, provider.calls[0].IdempotencyKey, "checkout-42")
}
