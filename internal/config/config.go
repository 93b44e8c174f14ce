package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	AMQPURL      string
	AMQPExchange string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	StripeSecretKey       string
	StripeWebhookSecret   string

	// PaymentSignatureSecret keys the verify-payment HMAC. It defaults to the
	// Razorpay key secret, which is what Razorpay signs checkout callbacks with.
	PaymentSignatureSecret  string
	PaymentProviderTimeout  time.Duration
	DefaultGatewayCurrency  string
	DefaultCardCurrency     string
	AutomaticPaymentMethods bool
	SettledTTL              time.Duration
	ClaimTTL                time.Duration
	WebhookReplayTTL        time.Duration
	IdempotencyTTL          time.Duration

	QueueRedisPrefix       string
	QueueMaxAttempts       int
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	QueueSoftDeadline      time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64
	QueueDedupTTL          time.Duration
	LockTTL                time.Duration
	LockRetryBackoff       time.Duration

	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	FulfillmentWebhookURL    string
	FulfillmentWebhookSecret string
	FulfillmentTimeout       time.Duration
	FulfillmentMaxAttempts   int

	RateLimitMax       int
	RateLimitWindow    time.Duration
	BodyLimitBytes     int64
	CORSAllowedOrigins []string
	SecurityHSTS       bool

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
	PprofEnabled     bool
	PprofUser        string
	PprofPassword    string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	str := func(key, fallback string) string { return valueOrDefault(k.String(key), fallback) }

	cfg := &Config{
		AppEnv:      str("APP_ENV", "development"),
		Port:        str("PORT", "3000"),
		DatabaseURL: strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(k.String("REDIS_URL")),

		AMQPURL:      strings.TrimSpace(k.String("AMQP_URL")),
		AMQPExchange: str("AMQP_EXCHANGE", "payments.events"),

		RazorpayKeyID:         strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
		RazorpayKeySecret:     strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
		RazorpayWebhookSecret: strings.TrimSpace(k.String("RAZORPAY_WEBHOOK_SECRET")),
		StripeSecretKey:       strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret:   strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),

		PaymentSignatureSecret:  strings.TrimSpace(k.String("PAYMENT_SIGNATURE_SECRET")),
		PaymentProviderTimeout:  parseDuration(k.String("PAYMENT_PROVIDER_TIMEOUT"), "10s"),
		DefaultGatewayCurrency:  strings.ToUpper(str("PAYMENT_DEFAULT_GATEWAY_CURRENCY", "INR")),
		DefaultCardCurrency:     strings.ToLower(str("PAYMENT_DEFAULT_CARD_CURRENCY", "usd")),
		AutomaticPaymentMethods: parseBool(k.String("PAYMENT_AUTOMATIC_METHODS"), true),
		SettledTTL:              parseDuration(k.String("PAYMENT_SETTLED_TTL"), "0"),
		ClaimTTL:                parseDuration(k.String("PAYMENT_CLAIM_TTL"), "5m"),
		WebhookReplayTTL:        parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:          parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		QueueRedisPrefix:       strings.TrimSpace(k.String("QUEUE_REDIS_PREFIX")),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueSoftDeadline:      parseDuration(k.String("QUEUE_SOFT_DEADLINE"), "20s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "500ms"),
		QueueBackoffJitter:     parseFloat(k.String("QUEUE_BACKOFF_JITTER"), 0.2),
		QueueDedupTTL:          parseDuration(k.String("QUEUE_DEDUP_TTL"), "24h"),
		LockTTL:                parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:       parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		FulfillmentWebhookURL:    strings.TrimSpace(k.String("FULFILLMENT_WEBHOOK_URL")),
		FulfillmentWebhookSecret: strings.TrimSpace(k.String("FULFILLMENT_WEBHOOK_SECRET")),
		FulfillmentTimeout:       parseDuration(k.String("FULFILLMENT_WEBHOOK_TIMEOUT"), "5s"),
		FulfillmentMaxAttempts:   parseInt(k.String("FULFILLMENT_WEBHOOK_MAX_ATTEMPTS"), 3),

		RateLimitMax:       parseInt(k.String("RATE_LIMIT_MAX"), 1000),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "15m"),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		SecurityHSTS:       parseBool(k.String("SECURITY_HSTS"), false),

		LogFormat:        str("OBS_LOG_FORMAT", "json"),
		LogLevel:         str("OBS_LOG_LEVEL", "info"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: str("OBS_METRICS_NAMESPACE", "foodapp"),
		MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:  str("OBS_TRACING_EXPORTER", "otlp"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("OBS_PPROF_USER")),
		PprofPassword:    strings.TrimSpace(k.String("OBS_PPROF_PASS")),
	}
	if cfg.PaymentSignatureSecret == "" {
		cfg.PaymentSignatureSecret = cfg.RazorpayKeySecret
	}

	if cfg.ClaimTTL <= 0 {
		return nil, errors.New("PAYMENT_CLAIM_TTL must be positive")
	}
	if cfg.SettledTTL < 0 {
		return nil, errors.New("PAYMENT_SETTLED_TTL must not be negative; 0 keeps settled pairs forever")
	}

	return cfg, nil
}

// RequireProviders checks the payment provider credentials the API cannot
// start without. The worker never calls the providers and skips this.
func (c *Config) RequireProviders() error {
	var missing []string
	for _, req := range []struct{ key, val string }{
		{"RAZORPAY_KEY_ID", c.RazorpayKeyID},
		{"RAZORPAY_KEY_SECRET", c.RazorpayKeySecret},
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
	} {
		if req.val == "" {
			missing = append(missing, req.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "3000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return parsed
	}
	return fallback
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
