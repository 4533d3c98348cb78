package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.RateLimit.MaxRequests != 60 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Pricing.Debounce != 300*time.Millisecond {
		t.Fatalf("expected 300ms debounce, got %v", cfg.Pricing.Debounce)
	}
	if !cfg.Pricing.OfflineDeliveryFee.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected offline fee 20, got %s", cfg.Pricing.OfflineDeliveryFee)
	}
	if cfg.API.MaxAttempts != 3 || cfg.API.BackoffCap != 10*time.Second {
		t.Fatalf("unexpected api defaults %+v", cfg.API)
	}
	if cfg.Storage.DurableDriver != DriverSQLite {
		t.Fatalf("expected sqlite durable driver, got %q", cfg.Storage.DurableDriver)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.example.test")
	t.Setenv(EnvOfflineDeliveryFee, "15.50")
	t.Setenv(EnvRateLimitMax, "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://api.example.test" {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.Pricing.OfflineDeliveryFee.String() != "15.5" {
		t.Fatalf("unexpected offline fee %s", cfg.Pricing.OfflineDeliveryFee)
	}
	if cfg.RateLimit.MaxRequests != 5 {
		t.Fatalf("unexpected max requests %d", cfg.RateLimit.MaxRequests)
	}
}

func TestLoad_RedisBackendRequiresEndpoint(t *testing.T) {
	t.Setenv(EnvRateLimitBackend, BackendRedis)
	if _, err := Load(); err == nil {
		t.Fatal("expected redis backend without endpoint to fail")
	}

	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	if _, err := Load(); err != nil {
		t.Fatalf("expected redis backend with url to load, got %v", err)
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv(EnvDurableDriver, "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("expected unknown driver to fail")
	}
}

func TestLoad_RejectsRelativeBaseURL(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "not a url")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid base url to fail")
	}
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
}
