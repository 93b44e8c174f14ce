package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signatureSeparator = "|"

// ComputeSignature returns the lowercase hex HMAC-SHA256 of "orderID|paymentID".
func ComputeSignature(orderID, paymentID string, secret []byte) (string, error) {
	mac, err := signatureMAC(orderID, paymentID, secret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

// VerifySignature reports whether provided is the signature of the pair under
// secret. Hex decoding is case-insensitive; malformed hex is a mismatch, not an error.
func VerifySignature(orderID, paymentID, provided string, secret []byte) (bool, error) {
	expected, err := signatureMAC(orderID, paymentID, secret)
	if err != nil {
		return false, err
	}
	got, err := hex.DecodeString(strings.TrimSpace(provided))
	if err != nil || len(got) != len(expected) {
		return false, nil
	}
	return hmac.Equal(expected, got), nil
}

func signatureMAC(orderID, paymentID string, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, invalidInput("signing secret is empty")
	}
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(paymentID) == "" {
		return nil, invalidInput("order and payment identifiers are required")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte(signatureSeparator))
	mac.Write([]byte(paymentID))
	return mac.Sum(nil), nil
}

// Signer binds a signing secret to the signature helpers.
type Signer struct {
	secret []byte
}

// NewSigner copies secret so later mutation of the caller's buffer has no effect.
func NewSigner(secret string) (Signer, error) {
	if secret == "" {
		return Signer{}, invalidInput("signing secret is empty")
	}
	return Signer{secret: []byte(secret)}, nil
}

// Sign computes the signature for the pair.
func (s Signer) Sign(orderID, paymentID string) (string, error) {
	return ComputeSignature(orderID, paymentID, s.secret)
}

// Verify checks provided against the pair.
func (s Signer) Verify(orderID, paymentID, provided string) (bool, error) {
	return VerifySignature(orderID, paymentID, provided, s.secret)
}

// Configured reports whether the signer holds a secret.
func (s Signer) Configured() bool { return len(s.secret) > 0 }
