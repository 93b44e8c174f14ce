package payment_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/noah-isme/foodapp-backend/internal/payment"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []payment.GatewayOrderRequest
	err   error
	block bool
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req payment.GatewayOrderRequest) (payment.GatewayOrder, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return payment.GatewayOrder{}, ctx.Err()
	}
	if f.err != nil {
		return payment.GatewayOrder{}, f.err
	}
	return payment.GatewayOrder{
		ID:        "order_test_1",
		Entity:    "order",
		Amount:    req.AmountMinor,
		AmountDue: req.AmountMinor,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		Notes:     req.Notes,
		CreatedAt: 1700000000,
	}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeIntents struct {
	mu    sync.Mutex
	calls []payment.IntentRequest
	err   error
}

func (f *fakeIntents) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.IntentResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return payment.IntentResponse{}, f.err
	}
	return payment.IntentResponse{
		ID:           "pi_test_1",
		ClientSecret: "pi_test_1_secret_abc",
		Status:       "requires_payment_method",
		Amount:       req.AmountMinor,
		Currency:     req.Currency,
	}, nil
}

type countingSettler struct {
	calls   atomic.Int32
	err     error
	mu      sync.Mutex
	settled []payment.Settlement
}

func (c *countingSettler) Settle(_ context.Context, s payment.Settlement) error {
	c.calls.Add(1)
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.settled = append(c.settled, s)
	c.mu.Unlock()
	return nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []payment.AuditRecord
}

func (m *memoryRecorder) Record(_ context.Context, rec payment.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Kind)
	}
	return out
}
