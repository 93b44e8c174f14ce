package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/payment"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExec struct {
	calls []execCall
	err   error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestRecordWritesAuditRow(t *testing.T) {
	db := &fakeExec{}
	s := Store{DB: db}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := s.Record(context.Background(), payment.AuditRecord{
		Kind:        payment.RecordIntent,
		Provider:    payment.ProviderStripe,
		Reference:   "pi_123",
		AmountMinor: 1999,
		Currency:    "usd",
		Status:      "requires_payment_method",
		Metadata:    map[string]string{"cart": "c1"},
		CreatedAt:   at,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)

	args := db.calls[0].args
	require.Equal(t, "intent", args[0])
	require.Equal(t, "stripe", args[1])
	require.Equal(t, "pi_123", args[2])
	require.Equal(t, int64(1999), args[4])
	var meta map[string]string
	require.NoError(t, json.Unmarshal(args[8].([]byte), &meta))
	require.Equal(t, "c1", meta["cart"])
	require.Equal(t, at, args[9])
}

func TestInsertEventIsIdempotentSQL(t *testing.T) {
	db := &fakeExec{}
	s := Store{DB: db}
	ev := events.Event{ID: uuid.New(), Topic: events.TopicOrderPaid, AggregateID: "order_A1", OccurredAt: time.Now()}

	require.NoError(t, s.InsertEvent(context.Background(), ev))
	require.Contains(t, db.calls[0].sql, "ON CONFLICT (id) DO NOTHING")
	require.Equal(t, []byte("{}"), db.calls[0].args[3])
}

func TestStoreWrapsErrors(t *testing.T) {
	boom := errors.New("conn reset")
	s := Store{DB: &fakeExec{err: boom}}
	err := s.Record(context.Background(), payment.AuditRecord{Kind: payment.RecordOrder})
	require.ErrorIs(t, err, boom)
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/app?sslmode=disable", migrateURL("postgres://u:p@db:5432/app?sslmode=disable"))
	require.Equal(t, "pgx5://db/app", migrateURL("postgresql://db/app"))
	require.Equal(t, "pgx5://db/app", migrateURL("pgx5://db/app"))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.Len(t, ups, 3)
	require.Len(t, downs, len(ups))
}
