package payment_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/payment"
)

const (
	vectorSecret    = "s3cr3t"
	vectorOrderID   = "order_A1"
	vectorPaymentID = "pay_B2"
	vectorSignature = "a179f15b27f1826c97e65778a7069828a04e12876fd405ecd3180841acfaf04c"
)

func TestComputeSignatureKnownVector(t *testing.T) {
	sig, err := payment.ComputeSignature(vectorOrderID, vectorPaymentID, []byte(vectorSecret))
	require.NoError(t, err)
	require.Equal(t, vectorSignature, sig)
}

func TestVerifySignature(t *testing.T) {
	secret := []byte(vectorSecret)
	flipped := []byte(vectorSignature)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	cases := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		want      bool
	}{
		{name: "valid", orderID: vectorOrderID, paymentID: vectorPaymentID, signature: vectorSignature, want: true},
		{name: "upper case hex", orderID: vectorOrderID, paymentID: vectorPaymentID, signature: strings.ToUpper(vectorSignature), want: true},
		{name: "one char flipped", orderID: vectorOrderID, paymentID: vectorPaymentID, signature: string(flipped), want: false},
		{name: "swapped identifiers", orderID: vectorPaymentID, paymentID: vectorOrderID, signature: vectorSignature, want: false},
		{name: "not hex", orderID: vectorOrderID, paymentID: vectorPaymentID, signature: "zz-not-hex", want: false},
		{name: "truncated", orderID: vectorOrderID, paymentID: vectorPaymentID, signature: vectorSignature[:32], want: false},
		{name: "separator not part of ids", orderID: "order_A1|", paymentID: "pay_B2", signature: vectorSignature, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := payment.VerifySignature(tc.orderID, tc.paymentID, tc.signature, secret)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
		})
	}
}

func TestVerifySignatureRejectsEmptyInput(t *testing.T) {
	_, err := payment.VerifySignature("", vectorPaymentID, vectorSignature, []byte(vectorSecret))
	require.ErrorIs(t, err, payment.ErrInvalidInput)

	_, err = payment.VerifySignature(vectorOrderID, "", vectorSignature, []byte(vectorSecret))
	require.ErrorIs(t, err, payment.ErrInvalidInput)

	_, err = payment.ComputeSignature(vectorOrderID, vectorPaymentID, nil)
	require.ErrorIs(t, err, payment.ErrInvalidInput)
}

func TestSignerRoundTrip(t *testing.T) {
	signer, err := payment.NewSigner(vectorSecret)
	require.NoError(t, err)
	require.True(t, signer.Configured())

	sig, err := signer.Sign("order_X", "pay_Y")
	require.NoError(t, err)
	ok, err := signer.Verify("order_X", "pay_Y", sig)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = payment.NewSigner("")
	require.ErrorIs(t, err, payment.ErrInvalidInput)
}
