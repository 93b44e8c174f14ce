package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/foodapp-backend/internal/resilience"
)

var nopLogger = zerolog.Nop()

// claimScript moves the oldest due task from the ready set into the
// processing set, scored by its visibility deadline.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '1')
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

// enqueueScript adds a task to the ready set and, when a dedup key is given,
// marks it pending. The marker is only written once the ZADD succeeded.
var enqueueScript = redis.NewScript(`
if #KEYS == 2 and redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
if #KEYS == 2 then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
end
return 1
`)

// Task is a unit of background work. Attempt is set by the worker and
// starts at 1.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// taskMessage is the stored form of a Task. Attempt counts finished or
// abandoned deliveries.
type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
	// MaxAttempts applies to tasks that do not set their own.
	MaxAttempts int
}

// Enqueue schedules t. A task carrying an idempotency key is dropped while an
// earlier copy with the same key is still pending.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if !validKind(t.Kind) {
		return errors.New("queue: task kind is required")
	}
	maxAttempts := t.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	keys := keyspace{prefix: e.Prefix, kind: t.Kind}
	msg := taskMessage{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: maxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	scriptKeys := []string{keys.ready()}
	ttl := e.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if t.IdempotencyKey != "" {
		scriptKeys = append(scriptKeys, keys.dedup(t.IdempotencyKey))
	}
	added, err := enqueueScript.Run(ctx, e.R, scriptKeys, msg.AvailableAt, encoded, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if added == 1 {
		QueueDepth.WithLabelValues(msg.Kind).Inc()
	}
	return nil
}

func validKind(kind string) bool {
	if kind == "" {
		return false
	}
	for _, c := range kind {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return false
		}
	}
	return true
}

// Worker consumes tasks of one kind. Claimed tasks sit in a processing set
// until acked; a task whose visibility deadline passes is handed out again.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler invocation; zero means the
	// visibility timeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives exhausted tasks; without one they land in a Redis list.
	Store  Store
	Logger *zerolog.Logger
}

// Run processes tasks until ctx is cancelled and waits for in-flight
// handlers before returning.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if !validKind(w.Kind) {
		return errors.New("queue: worker kind is required")
	}
	w = w.withDefaults()
	keys := keyspace{prefix: w.Prefix, kind: w.Kind}

	slots := make(chan struct{}, w.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			if err := w.redeliverExpired(ctx, keys); err != nil && ctx.Err() == nil {
				return err
			}
			continue
		case slots <- struct{}{}:
		}

		raw, msg, err := w.claim(ctx, keys)
		switch {
		case err == nil && ctx.Err() != nil:
			<-slots
			w.unclaim(keys, raw, msg)
			return nil
		case ctx.Err() != nil:
			<-slots
			return nil
		case errors.Is(err, redis.Nil):
			<-slots
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		case err != nil:
			<-slots
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(ctx, keys, raw, msg)
		}()
	}
}

func (w Worker) withDefaults() Worker {
	if w.Concurrency <= 0 {
		w.Concurrency = 1
	}
	if w.VisibilityTimeout <= 0 {
		w.VisibilityTimeout = 30 * time.Second
	}
	if w.SoftDeadline <= 0 || w.SoftDeadline > w.VisibilityTimeout {
		w.SoftDeadline = w.VisibilityTimeout
	}
	if w.RetryBase <= 0 {
		w.RetryBase = 200 * time.Millisecond
	}
	return w
}

// claim atomically takes the next due task. It returns redis.Nil when none
// is due.
func (w Worker) claim(ctx context.Context, keys keyspace) (string, taskMessage, error) {
	now := time.Now()
	deadline := now.Add(w.VisibilityTimeout).UnixNano()
	raw, err := claimScript.Run(ctx, w.R,
		[]string{keys.ready(), keys.processing()},
		strconv.FormatInt(now.UnixNano(), 10), strconv.FormatInt(deadline, 10),
	).Text()
	if err != nil {
		return "", taskMessage{}, err
	}
	QueueDepth.WithLabelValues(w.Kind).Dec()
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		w.logger().Warn().Err(err).Str("kind", w.Kind).Msg("queue_message_undecodable")
		_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
		return w.claim(ctx, keys)
	}
	return raw, msg, nil
}

// unclaim hands a task claimed during shutdown straight back to the ready set.
func (w Worker) unclaim(keys keyspace, raw string, msg taskMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := w.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, keys.processing(), raw)
		p.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw})
		return nil
	})
	if err != nil {
		w.logger().Warn().Err(err).Str("kind", msg.Kind).Str("key", msg.Key).Msg("queue_unclaim_failed")
		return
	}
	QueueDepth.WithLabelValues(msg.Kind).Inc()
}

func (w Worker) process(ctx context.Context, keys keyspace, raw string, msg taskMessage) {
	jobCtx, cancel := context.WithTimeout(ctx, w.SoftDeadline)
	defer cancel()

	started := time.Now()
	err := w.Handler(jobCtx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt + 1,
	})
	QueueTaskDuration.WithLabelValues(msg.Kind).Observe(time.Since(started).Seconds())

	// bookkeeping must survive shutdown and handler timeouts
	opCtx, opCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer opCancel()

	removed, remErr := w.R.ZRem(opCtx, keys.processing(), raw).Result()
	if remErr != nil {
		w.logger().Error().Err(remErr).Str("kind", msg.Kind).Str("key", msg.Key).Msg("queue_ack_failed")
		return
	}
	msg.Attempt++
	if err == nil {
		QueueProcessedTotal.WithLabelValues(msg.Kind, "ok").Inc()
		w.releaseDedup(opCtx, keys, msg)
		return
	}
	if removed == 0 {
		// the visibility sweep already handed this delivery out again
		w.logger().Warn().Err(err).Str("kind", msg.Kind).Str("key", msg.Key).Msg("queue_task_failed_after_redelivery")
		return
	}
	w.fail(opCtx, keys, msg, err)
}

func (w Worker) fail(ctx context.Context, keys keyspace, msg taskMessage, cause error) {
	logger := w.logger()
	if msg.Attempt >= msg.MaxAttempts {
		QueueProcessedTotal.WithLabelValues(msg.Kind, "dlq").Inc()
		logger.Error().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_dead_lettered")
		w.deadLetter(ctx, keys, msg, cause)
		w.releaseDedup(ctx, keys, msg)
		return
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	delay := resilience.Backoff(w.RetryBase, msg.Attempt, w.RetryJitter)
	logger.Warn().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue_task_failed")
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	if err := schedule(ctx, w.R, keys.ready(), msg); err != nil {
		logger.Error().Err(err).Str("kind", msg.Kind).Str("key", msg.Key).Msg("queue_retry_schedule_failed")
	}
}

func (w Worker) deadLetter(ctx context.Context, keys keyspace, msg taskMessage, cause error) {
	lastErr := cause.Error()
	if w.Store != nil {
		_, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        msg.Payload,
			Attempts:       msg.Attempt,
			LastError:      &lastErr,
		})
		if err == nil {
			QueueDLQSize.WithLabelValues(msg.Kind).Inc()
			return
		}
		w.logger().Error().Err(err).Str("kind", msg.Kind).Msg("queue_dlq_store_failed")
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.LPush(ctx, keys.dlq(), encoded).Err(); err == nil {
		QueueDLQSize.WithLabelValues(msg.Kind).Inc()
	}
}

func (w Worker) releaseDedup(ctx context.Context, keys keyspace, msg taskMessage) {
	if msg.Key == "" {
		return
	}
	if err := w.R.Del(ctx, keys.dedup(msg.Key)).Err(); err != nil {
		w.logger().Warn().Err(err).Str("kind", msg.Kind).Str("key", msg.Key).Msg("queue_dedup_release_failed")
	}
}

// redeliverExpired returns tasks whose holder missed the visibility deadline
// to the ready set. The lost delivery counts as an attempt.
func (w Worker) redeliverExpired(ctx context.Context, keys keyspace) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	expired, err := w.R.ZRangeByScore(ctx, keys.processing(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, keys.processing(), raw).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		var msg taskMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		msg.Attempt++
		w.logger().Warn().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_visibility_expired")
		if msg.Attempt >= msg.MaxAttempts {
			QueueProcessedTotal.WithLabelValues(msg.Kind, "dlq").Inc()
			w.deadLetter(ctx, keys, msg, errors.New("visibility timeout expired"))
			w.releaseDedup(ctx, keys, msg)
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		if err := schedule(ctx, w.R, keys.ready(), msg); err != nil {
			return err
		}
	}
	return nil
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return &nopLogger
}

func schedule(ctx context.Context, r *redis.Client, key string, msg taskMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.ZAdd(ctx, key, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err(); err != nil {
		return err
	}
	QueueDepth.WithLabelValues(msg.Kind).Inc()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// keyspace names the Redis keys of one task kind.
type keyspace struct {
	prefix string
	kind   string
}

func (k keyspace) join(parts ...string) string {
	if k.prefix == "" {
		return strings.Join(append([]string{"queue"}, parts...), ":")
	}
	return strings.Join(append([]string{k.prefix}, parts...), ":")
}

func (k keyspace) ready() string {
	if k.prefix == "" {
		return "queue:" + k.kind
	}
	return k.join("queue", k.kind)
}

func (k keyspace) processing() string      { return k.join(k.kind, "processing") }
func (k keyspace) dlq() string             { return k.join(k.kind, "dlq") }
func (k keyspace) dedup(key string) string { return k.join("dedup", k.kind, key) }
