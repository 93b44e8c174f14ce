package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/foodapp-backend/internal/app"
	"github.com/noah-isme/foodapp-backend/internal/config"
	"github.com/noah-isme/foodapp-backend/internal/fulfillment"
	"github.com/noah-isme/foodapp-backend/internal/lock"
	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/payment"
	"github.com/noah-isme/foodapp-backend/internal/queue"
)

func main() {
	requeue := flag.Int("requeue-dlq", 0, "move up to N dead-lettered settlements back onto the queue and exit")
	flag.Parse()

	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "foodapp-worker",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.New(startCtx, cfg, logger, "foodapp-worker")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	dlq := deps.DLQStore()
	if dlq != nil {
		if err := queue.SyncDLQGauge(ctx, dlq); err != nil {
			logger.Warn().Err(err).Msg("sync dlq gauge")
		}
	}

	if *requeue > 0 {
		enq, err := deps.Enqueuer()
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise queue")
		}
		moved, err := queue.Requeue(ctx, dlq, enq, payment.SettlementTaskKind, *requeue)
		if err != nil {
			logger.Fatal().Err(err).Int("moved", moved).Msg("requeue dead letters")
		}
		logger.Info().Int("moved", moved).Msg("dead letters requeued")
		return
	}

	settlements := fulfillment.Worker{
		Bus: deps.Bus(),
		Locker: lock.Locker{
			R:            deps.Redis,
			Prefix:       cfg.QueueRedisPrefix,
			RetryBackoff: cfg.LockRetryBackoff,
		},
		LockTTL: cfg.LockTTL,
		Logger:  &logger,
	}

	worker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              payment.SettlementTaskKind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.QueueSoftDeadline,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Store:             dlq,
		Logger:            &logger,
		Handler:           settlements.Handle,
	}

	logger.Info().Str("kind", worker.Kind).Int("concurrency", worker.Concurrency).Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}
