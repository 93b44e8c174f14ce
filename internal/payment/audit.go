package payment

import (
	"context"
	"time"
)

// Audit record kinds.
const (
	RecordOrder        = "order"
	RecordIntent       = "intent"
	RecordVerification = "verification"
)

// AuditRecord is one append-only row describing a payment interaction.
// It has no field for client secrets.
type AuditRecord struct {
	Kind        string
	Provider    string
	Reference   string
	PaymentID   string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Recorder persists audit records. Failures are logged by callers and never
// fail the payment operation.
type Recorder interface {
	Record(ctx context.Context, rec AuditRecord) error
}
