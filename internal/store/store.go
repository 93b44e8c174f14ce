// Package store persists payment audit rows and domain events in Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/payment"
)

// Execer is the subset of pgxpool.Pool the store writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store appends audit records and events. It never updates rows.
type Store struct {
	DB Execer
}

// Open connects a traced pool, pings it and applies migrations.
func Open(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.ConnConfig.Tracer = obs.PGXTracer{}
	cfg.MaxConnLifetime = time.Hour
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

const insertRecordSQL = `INSERT INTO payment_records
    (kind, provider, reference, payment_id, amount_minor, currency, receipt, status, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)`

// Record implements payment.Recorder.
func (s Store) Record(ctx context.Context, rec payment.AuditRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.DB.Exec(ctx, insertRecordSQL,
		rec.Kind, rec.Provider, rec.Reference, rec.PaymentID, rec.AmountMinor,
		rec.Currency, rec.Receipt, rec.Status, rawMeta, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

const insertEventSQL = `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

// InsertEvent implements events.EventStore. Redelivered events are no-ops.
func (s Store) InsertEvent(ctx context.Context, ev events.Event) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if _, err := s.DB.Exec(ctx, insertEventSQL, ev.ID, ev.Topic, ev.AggregateID, payload, ev.OccurredAt.UTC()); err != nil {
		return fmt.Errorf("insert domain event: %w", err)
	}
	return nil
}
