package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/foodapp-backend/internal/app"
	"github.com/noah-isme/foodapp-backend/internal/assist"
	"github.com/noah-isme/foodapp-backend/internal/common"
	"github.com/noah-isme/foodapp-backend/internal/config"
	"github.com/noah-isme/foodapp-backend/internal/health"
	"github.com/noah-isme/foodapp-backend/internal/notify"
	"github.com/noah-isme/foodapp-backend/internal/obs"
	"github.com/noah-isme/foodapp-backend/internal/payment"
	"github.com/noah-isme/foodapp-backend/internal/ratelimit"
	"github.com/noah-isme/foodapp-backend/internal/security"
)

func main() {
	cfg := config.MustLoad()
	if err := cfg.RequireProviders(); err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "foodapp-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
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
	deps, err := app.New(startCtx, cfg, logger, "foodapp-api")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	razorpay := payment.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
	stripe := payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	recorder := deps.Recorder()

	orders := &payment.OrderService{
		Gateway:         razorpay,
		DefaultCurrency: cfg.DefaultGatewayCurrency,
		Timeout:         cfg.PaymentProviderTimeout,
		Breaker:         deps.Breaker(payment.ProviderRazorpay),
		Recorder:        recorder,
	}
	intents := &payment.IntentService{
		Provider:                stripe,
		DefaultCurrency:         cfg.DefaultCardCurrency,
		AutomaticPaymentMethods: cfg.AutomaticPaymentMethods,
		Timeout:                 cfg.PaymentProviderTimeout,
		Breaker:                 deps.Breaker(payment.ProviderStripe),
		Recorder:                recorder,
	}

	signer, err := payment.NewSigner(cfg.PaymentSignatureSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment signer")
	}
	bus := deps.Bus()
	verifier := &payment.Verifier{
		Signer:   signer,
		Ledger:   deps.Ledger(),
		Settler:  deps.Settler(bus),
		Recorder: recorder,
	}
	paymentHandler := payment.NewHandler(orders, intents, verifier)

	webhookHandler := &payment.Webhook{
		Providers: map[string]payment.WebhookVerifier{
			payment.ProviderRazorpay: razorpay,
			payment.ProviderStripe:   stripe,
		},
		Verifier:  verifier,
		ReplayTTL: cfg.WebhookReplayTTL,
		Bus:       bus,
		MaxBody:   cfg.BodyLimitBytes,
	}
	if deps.Redis != nil {
		webhookHandler.Replay = notify.RedisReplayProtector{Client: deps.Redis}
	}

	limiterStore, err := deps.LimiterStore()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	rateLimit := ratelimit.Handler{
		Limiter: ratelimit.StoreLimiter{Store: limiterStore},
		Config:  ratelimit.PerIP(cfg.RateLimitWindow, cfg.RateLimitMax),
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_store_error") },
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.SecurityHSTS}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug", protectPprof(middleware.Profiler(), cfg.PprofUser, cfg.PprofPassword))
	}

	healthHandler := health.Handler{
		Probes:   deps.Probes(),
		Timeout:  2 * time.Second,
		Features: assist.Features(),
	}
	r.Get("/health", healthHandler.Summary)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Group(func(g chi.Router) {
		g.Use(rateLimit.Middleware)

		g.Group(func(p chi.Router) {
			p.Use(idem.Middleware)
			p.Post("/create-order", paymentHandler.CreateOrder)
			p.Post("/create-payment-intent", paymentHandler.CreatePaymentIntent)
		})
		g.Post("/verify-payment", paymentHandler.VerifyPayment)
		g.Post("/webhooks/payment/{provider}", webhookHandler.Handle)

		assist.NewStaticHandler().Mount(g)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("server shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
