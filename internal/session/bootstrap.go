package session

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/angelmondragon/storefront-engine/internal/geo"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/db"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/angelmondragon/storefront-engine/pkg/redis"
	"github.com/angelmondragon/storefront-engine/pkg/storage"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const rateLimitScope = "backend"

// Infra holds the long-lived clients built from configuration.
type Infra struct {
	Stores  storage.Tiers
	Backend *transport.Client
	Redis   *redis.Client
	DB      *db.Client
	Metrics *metrics.CommerceMetrics
}

// Closers lists the clients that must be closed on shutdown.
func (i *Infra) Closers() []io.Closer {
	var out []io.Closer
	if i.Redis != nil {
		out = append(out, i.Redis)
	}
	if i.DB != nil {
		out = append(out, i.DB)
	}
	return out
}

// Ping checks every configured dependency.
func (i *Infra) Ping(ctx context.Context) error {
	var err error
	if i.Redis != nil {
		err = multierr.Append(err, i.Redis.Ping(ctx))
	}
	if i.DB != nil {
		err = multierr.Append(err, i.DB.Ping(ctx))
	}
	return err
}

// Build connects the stores, the rate limiter, and the backend client. reg
// may be nil when metrics are disabled.
func Build(ctx context.Context, cfg config.Config, logg *logger.Logger, reg prometheus.Registerer) (*Infra, error) {
	if logg == nil {
		logg = logger.Nop()
	}
	if !cfg.Metrics.Enabled {
		reg = nil
	}
	infra := &Infra{Metrics: metrics.NewCommerceMetrics(reg, cfg.Metrics.Namespace)}

	needRedis := strings.EqualFold(cfg.Storage.EphemeralBackend, config.BackendRedis) ||
		(cfg.RateLimit.Enabled && strings.EqualFold(cfg.RateLimit.Backend, config.BackendRedis))
	if needRedis {
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		infra.Redis = client
	}

	durable, err := db.New(ctx, cfg.Storage, logg)
	if err != nil {
		infra.close()
		return nil, fmt.Errorf("open durable store: %w", err)
	}
	infra.DB = durable
	infra.Stores.Durable = durable.NewKVStore(cfg.Storage.Namespace)

	if strings.EqualFold(cfg.Storage.EphemeralBackend, config.BackendRedis) {
		infra.Stores.Ephemeral = infra.Redis.NewStore(cfg.Storage.Namespace, cfg.Storage.EphemeralTTL)
	} else {
		infra.Stores.Ephemeral = storage.NewMemory()
	}

	var limiter transport.Limiter
	if cfg.RateLimit.Enabled {
		if strings.EqualFold(cfg.RateLimit.Backend, config.BackendRedis) {
			limiter = infra.Redis.NewWindowLimiter(rateLimitScope, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
		} else {
			limiter = transport.NewWindowLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
		}
	}

	backend, err := transport.NewClientFromConfig(cfg.API, limiter, logg, metrics.NewTransportMetrics(reg, cfg.Metrics.Namespace))
	if err != nil {
		infra.close()
		return nil, err
	}
	infra.Backend = backend
	return infra, nil
}

func (i *Infra) close() {
	for _, c := range i.Closers() {
		_ = c.Close()
	}
}

// Open builds the infrastructure and a session over it. Closing the session
// closes the infrastructure.
func Open(ctx context.Context, cfg config.Config, logg *logger.Logger, reg prometheus.Registerer, location geo.Provider) (*Session, *Infra, error) {
	infra, err := Build(ctx, cfg, logg, reg)
	if err != nil {
		return nil, nil, err
	}
	s, err := New(ctx, Deps{
		Config:   cfg,
		Backend:  infra.Backend,
		Stores:   infra.Stores,
		Logger:   logg,
		Metrics:  infra.Metrics,
		Location: location,
		Closers:  infra.Closers(),
	})
	if err != nil {
		infra.close()
		return nil, nil, err
	}
	return s, infra, nil
}
