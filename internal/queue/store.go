package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable is returned when no database backs the DLQ.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// Store persists tasks that exhausted their attempts.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is a dead-lettered task row in queue_dlq.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore returns the Postgres dead-letter store. db is usually a
// *pgxpool.Pool; a pgx.Tx works too.
func NewStore(db querier) Store {
	return pgStore{db: db}
}

type pgStore struct {
	db querier
}

func (s pgStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if s.db == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, entry.LastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert dlq entry: %w", err)
	}
	return id, nil
}

func (s pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

// ListQueueDlq pages through entries newest first. An empty kind matches all.
func (s pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+dlqColumns+` FROM queue_dlq WHERE $1::text = '' OR kind = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		strings.TrimSpace(kind), min(max(limit, 1), 500), max(offset, 0),
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DLQEntry, error) {
		var e DLQEntry
		err := row.Scan(&e.ID, &e.Kind, &e.IdempotencyKey, &e.Payload, &e.Attempts, &e.LastError, &e.CreatedAt)
		return e, err
	})
}

func (s pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE $1::text = '' OR kind = $1`, strings.TrimSpace(kind)).Scan(&total)
	return total, err
}

func (s pgStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64)
	var (
		kind  string
		total int64
	)
	_, err = pgx.ForEachRow(rows, []any{&kind, &total}, func() error {
		sizes[kind] = total
		return nil
	})
	return sizes, err
}

// Requeue moves up to limit dead-lettered tasks of kind back onto the ready
// queue with a fresh attempt budget. It returns how many were requeued.
func Requeue(ctx context.Context, store Store, enq Enqueuer, kind string, limit int) (int, error) {
	if store == nil {
		return 0, ErrStoreUnavailable
	}
	entries, err := store.ListQueueDlq(ctx, kind, limit, 0)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, entry := range entries {
		// the dedup marker from the first enqueue would swallow the retry
		if entry.IdempotencyKey != "" && enq.R != nil {
			if err := enq.R.Del(ctx, keyspace{prefix: enq.Prefix, kind: entry.Kind}.dedup(entry.IdempotencyKey)).Err(); err != nil {
				return moved, err
			}
		}
		if err := enq.Enqueue(ctx, Task{
			Kind:           entry.Kind,
			Payload:        entry.Payload,
			IdempotencyKey: entry.IdempotencyKey,
		}); err != nil {
			return moved, err
		}
		if err := store.DeleteQueueDlq(ctx, entry.ID); err != nil {
			return moved, err
		}
		QueueDLQSize.WithLabelValues(entry.Kind).Dec()
		moved++
	}
	return moved, nil
}

// SyncDLQGauge seeds the DLQ size gauge from the store at startup.
func SyncDLQGauge(ctx context.Context, store Store) error {
	if store == nil {
		return ErrStoreUnavailable
	}
	sizes, err := store.QueueDlqSizeByKind(ctx)
	if err != nil {
		return err
	}
	for kind, size := range sizes {
		QueueDLQSize.WithLabelValues(kind).Set(float64(size))
	}
	return nil
}
