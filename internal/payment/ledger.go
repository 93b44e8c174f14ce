package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/foodapp-backend/internal/common"
)

const (
	ledgerSettling = "settling"
	ledgerSettled  = "settled"
)

// SettlementLedger records which (orderId, paymentId) pairs have been settled.
// Claim is an atomic check-and-set: exactly one concurrent caller wins a pair.
type SettlementLedger interface {
	Claim(ctx context.Context, key string) (bool, error)
	Confirm(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// SettlementKey identifies a verified pair.
func SettlementKey(orderID, paymentID string) string {
	return orderID + signatureSeparator + paymentID
}

// RedisLedger keeps the ledger in Redis so every API replica shares it.
type RedisLedger struct {
	R *redis.Client
	// Prefix namespaces the ledger keys, e.g. "foodapp" gives
	// "foodapp:payment:settlement:<hash>".
	Prefix string
	// ClaimTTL bounds how long a crashed settler can hold a pair.
	ClaimTTL time.Duration
	// SettledTTL is how long confirmed pairs are remembered; zero keeps them forever.
	SettledTTL time.Duration
}

// release only deletes a claim that has not been confirmed
var releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l RedisLedger) key(k string) string {
	key := "payment:settlement:" + common.Sha256Hex(k)
	if prefix := strings.TrimSuffix(l.Prefix, ":"); prefix != "" {
		return prefix + ":" + key
	}
	return key
}

// Claim marks the pair as settling unless any entry already exists.
func (l RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	ttl := l.ClaimTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return l.R.SetNX(ctx, l.key(key), ledgerSettling, ttl).Result()
}

// Confirm records the pair as settled.
func (l RedisLedger) Confirm(ctx context.Context, key string) error {
	return l.R.Set(ctx, l.key(key), ledgerSettled, l.SettledTTL).Err()
}

// Release drops an unconfirmed claim so a later verification can settle.
func (l RedisLedger) Release(ctx context.Context, key string) error {
	return releaseClaimScript.Run(ctx, l.R, []string{l.key(key)}, ledgerSettling).Err()
}

// MemoryLedger is a process-local ledger for single-instance deployments and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]string)}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	l.entries[key] = ledgerSettling
	return true, nil
}

func (l *MemoryLedger) Confirm(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = ledgerSettled
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[key] == ledgerSettling {
		delete(l.entries, key)
	}
	return nil
}

// Settled reports whether key has been confirmed.
func (l *MemoryLedger) Settled(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key] == ledgerSettled
}
