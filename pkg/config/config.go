package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App       AppConfig
	API       APIConfig
	RateLimit RateLimitConfig
	Pricing   PricingConfig
	Checkout  CheckoutConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" default:"dev"`
	ListenAddr   string `envconfig:"STOREFRONT_LISTEN_ADDR" default:"127.0.0.1:8090"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	// CORSOrigins are the browser origins allowed to call the local bridge.
	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig describes the remote pricing/order backend.
type APIConfig struct {
	BaseURL     string        `envconfig:"STOREFRONT_API_BASE_URL" default:"http://localhost:8787"`
	Routing     string        `envconfig:"STOREFRONT_API_ROUTING" default:"query"`
	Timeout     time.Duration `envconfig:"STOREFRONT_API_TIMEOUT" default:"30s"`
	MaxAttempts int           `envconfig:"STOREFRONT_API_MAX_ATTEMPTS" default:"3"`
	BackoffBase time.Duration `envconfig:"STOREFRONT_API_BACKOFF_BASE" default:"2s"`
	BackoffCap  time.Duration `envconfig:"STOREFRONT_API_BACKOFF_CAP" default:"10s"`
	AuthToken   string        `envconfig:"STOREFRONT_API_AUTH_TOKEN"`
}

type RateLimitConfig struct {
	Enabled     bool          `envconfig:"STOREFRONT_RATE_LIMIT_ENABLED" default:"true"`
	MaxRequests int           `envconfig:"STOREFRONT_RATE_LIMIT_MAX_REQUESTS" default:"60"`
	Window      time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_WINDOW" default:"60s"`
	Backend     string        `envconfig:"STOREFRONT_RATE_LIMIT_BACKEND" default:"memory"`
}

type PricingConfig struct {
	Debounce           time.Duration   `envconfig:"STOREFRONT_PRICING_DEBOUNCE" default:"300ms"`
	OfflineDeliveryFee decimal.Decimal `envconfig:"STOREFRONT_PRICING_OFFLINE_DELIVERY_FEE" default:"20"`
	CatalogTTL         time.Duration   `envconfig:"STOREFRONT_PRICING_CATALOG_TTL" default:"5m"`
}

type CheckoutConfig struct {
	SubmitTimeout  time.Duration `envconfig:"STOREFRONT_CHECKOUT_SUBMIT_TIMEOUT" default:"30s"`
	SubmitAttempts int           `envconfig:"STOREFRONT_CHECKOUT_SUBMIT_ATTEMPTS" default:"3"`
	DefaultETA     string        `envconfig:"STOREFRONT_CHECKOUT_DEFAULT_ETA" default:"30-45 minutes"`
}

type StorageConfig struct {
	EphemeralBackend string        `envconfig:"STOREFRONT_STORAGE_EPHEMERAL_BACKEND" default:"memory"`
	EphemeralTTL     time.Duration `envconfig:"STOREFRONT_STORAGE_EPHEMERAL_TTL" default:"12h"`
	DurableDriver    string        `envconfig:"STOREFRONT_STORAGE_DURABLE_DRIVER" default:"sqlite"`
	DurableDSN       string        `envconfig:"STOREFRONT_STORAGE_DURABLE_DSN" default:"storefront.db"`
	Namespace        string        `envconfig:"STOREFRONT_STORAGE_NAMESPACE" default:"default"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any redis endpoint was supplied.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type MetricsConfig struct {
	Enabled   bool   `envconfig:"STOREFRONT_METRICS_ENABLED" default:"true"`
	Namespace string `envconfig:"STOREFRONT_METRICS_NAMESPACE" default:"storefront"`
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("%s must be an absolute url: %w", EnvAPIBaseURL, err)
	}
	switch strings.ToLower(c.API.Routing) {
	case RoutingQuery, RoutingPath:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvAPIRouting, RoutingQuery, RoutingPath)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvAPITimeout)
	}
	if c.API.MaxAttempts < 1 || c.Checkout.SubmitAttempts < 1 {
		return fmt.Errorf("attempt counts must be at least 1")
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requires positive %s and %s", EnvRateLimitMax, EnvRateLimitWindow)
	}
	switch strings.ToLower(c.RateLimit.Backend) {
	case BackendMemory:
	case BackendRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("redis rate limit backend requires %s or %s", EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	switch strings.ToLower(c.Storage.EphemeralBackend) {
	case BackendMemory:
	case BackendRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("redis ephemeral storage requires %s or %s", EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unknown ephemeral storage backend %q", c.Storage.EphemeralBackend)
	}
	switch strings.ToLower(c.Storage.DurableDriver) {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown durable storage driver %q", c.Storage.DurableDriver)
	}
	if strings.TrimSpace(c.Storage.DurableDSN) == "" {
		return fmt.Errorf("%s is required", EnvDurableDSN)
	}
	if c.Pricing.OfflineDeliveryFee.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvOfflineDeliveryFee)
	}
	return nil
}
