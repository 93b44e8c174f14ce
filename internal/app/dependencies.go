package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/foodapp-backend/internal/config"
	"github.com/noah-isme/foodapp-backend/internal/events"
	"github.com/noah-isme/foodapp-backend/internal/health"
	"github.com/noah-isme/foodapp-backend/internal/notify"
	"github.com/noah-isme/foodapp-backend/internal/payment"
	"github.com/noah-isme/foodapp-backend/internal/queue"
	"github.com/noah-isme/foodapp-backend/internal/ratelimit"
	"github.com/noah-isme/foodapp-backend/internal/resilience"
	"github.com/noah-isme/foodapp-backend/internal/store"
)

// Dependencies holds the infrastructure shared by the api and worker
// processes. Redis and DB are nil when their URL is not configured.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	Redis  *redis.Client
	DB     *pgxpool.Pool

	amqp *notify.AMQPNotifier
}

// New connects the optional backing services named in cfg.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}

	if cfg.RedisURL != "" {
		client, err := NewRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled, logger)
		if err != nil {
			return nil, err
		}
		d.Redis = client
	}

	if cfg.DatabaseURL != "" {
		pool, err := store.Open(ctx, cfg.DatabaseURL, appName)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
	}

	if cfg.AMQPURL != "" {
		n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		d.amqp = n
	}
	return d, nil
}

// NewRedis parses url, instruments the client and pings it.
func NewRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Close releases every connection New opened.
func (d *Dependencies) Close() {
	if d.amqp != nil {
		if err := d.amqp.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close amqp")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// Breaker returns a circuit breaker for target using the configured thresholds.
func (d *Dependencies) Breaker(target string) *resilience.Breaker {
	return resilience.NewBreaker(d.Config.CircuitMinRequests, d.Config.CircuitFailureRatio, d.Config.CircuitOpenFor).
		WithTarget(target).
		WithLogger(d.Logger)
}

// Recorder returns the payment audit trail, or nil without a database.
func (d *Dependencies) Recorder() payment.Recorder {
	if d.DB == nil {
		return nil
	}
	return store.Store{DB: d.DB}
}

// Bus builds the event bus with the store and every configured notifier.
func (d *Dependencies) Bus() *events.Bus {
	bus := &events.Bus{Notifiers: []events.Notifier{notify.LogNotifier{Logger: &d.Logger}}}
	if d.DB != nil {
		bus.Store = store.Store{DB: d.DB}
	}
	if url := d.Config.FulfillmentWebhookURL; url != "" {
		bus.Notifiers = append(bus.Notifiers, &notify.WebhookNotifier{
			URL:    url,
			Secret: d.Config.FulfillmentWebhookSecret,
			Topics: events.DefaultTopics(),
			HTTP: notify.NewResilientClient(
				d.Config.FulfillmentTimeout,
				d.Config.FulfillmentMaxAttempts,
				d.Breaker("fulfillment-webhook"),
			),
		})
	}
	if d.amqp != nil {
		bus.Notifiers = append(bus.Notifiers, d.amqp)
	}
	return bus
}

// Ledger shares settlement state through Redis when available. The in-memory
// ledger only deduplicates within one process.
func (d *Dependencies) Ledger() payment.SettlementLedger {
	if d.Redis == nil {
		d.Logger.Warn().Msg("redis not configured; settlement ledger is process-local")
		return payment.NewMemoryLedger()
	}
	return payment.RedisLedger{
		R:          d.Redis,
		Prefix:     d.Config.QueueRedisPrefix,
		ClaimTTL:   d.Config.ClaimTTL,
		SettledTTL: d.Config.SettledTTL,
	}
}

// Enqueuer returns the settlement queue producer.
func (d *Dependencies) Enqueuer() (queue.Enqueuer, error) {
	if d.Redis == nil {
		return queue.Enqueuer{}, errors.New("queue requires REDIS_URL")
	}
	return queue.Enqueuer{
		R:           d.Redis,
		Prefix:      d.Config.QueueRedisPrefix,
		DedupTTL:    d.Config.QueueDedupTTL,
		MaxAttempts: d.Config.QueueMaxAttempts,
	}, nil
}

// Settler queues settlements for the worker when Redis is available and
// publishes them in-process otherwise.
func (d *Dependencies) Settler(bus *events.Bus) payment.Settler {
	enq, err := d.Enqueuer()
	if err != nil {
		return payment.DirectSettler{Bus: bus}
	}
	return payment.QueueSettler{Queue: enq, MaxAttempts: d.Config.QueueMaxAttempts}
}

// DLQStore returns the Postgres dead-letter store, or nil without a database.
func (d *Dependencies) DLQStore() queue.Store {
	if d.DB == nil {
		return nil
	}
	return queue.NewStore(d.DB)
}

// LimiterStore picks the Redis limiter store when available.
func (d *Dependencies) LimiterStore() (limiter.Store, error) {
	return ratelimit.NewStore(d.Redis, "ratelimit")
}

// Probes returns readiness checks for the connected dependencies.
func (d *Dependencies) Probes() map[string]health.Probe {
	probes := map[string]health.Probe{}
	if d.Redis != nil {
		probes["redis"] = health.RedisProbe(d.Redis)
	}
	if d.DB != nil {
		probes["db"] = health.PostgresProbe(d.DB)
	}
	return probes
}
