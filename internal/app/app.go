// Package app builds the service components from configuration. Both the
// long-running server and the one-shot job CLI start from here.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/propstrack/maintenance-server/internal/api"
	"github.com/propstrack/maintenance-server/internal/auth"
	"github.com/propstrack/maintenance-server/internal/blobstore"
	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/config"
	"github.com/propstrack/maintenance-server/internal/counters"
	"github.com/propstrack/maintenance-server/internal/metrics"
	"github.com/propstrack/maintenance-server/internal/quota"
	"github.com/propstrack/maintenance-server/internal/reconcile"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store    storage.Store
	Counters storage.CounterStore
	Blobs    blobstore.Store

	Enforcer   *quota.Enforcer
	Maintainer *counters.Maintainer
	Collector  *cleanup.Collector
	Jobs       *cleanup.Jobs
	Manual     *cleanup.Manual
	Health     *cleanup.HealthChecker
	Reconciler *reconcile.Reconciler
	JWT        *auth.JWTManager
	Authn      *auth.Authenticator
	Gate       *auth.Gate

	closers []func() error
}

// New opens the backends named by cfg and builds every component on top of them.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if err := a.openStore(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCounters(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBlobs(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Enforcer = quota.NewEnforcer(a.Store, policy, a.Metrics, logger)
	a.Maintainer = counters.NewMaintainer(a.Store, a.Counters, a.Metrics, logger)

	a.Collector, err = cleanup.NewCollector(a.Store, cfg.CleanupOptions(), a.Metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Jobs = cleanup.NewJobs(a.Collector, cfg.Cleanup.Policies)
	a.Manual = cleanup.NewManual(a.Collector, cfg.Cleanup.Manual)
	a.Health = cleanup.NewHealthChecker(a.Store, cfg.Cleanup.Monitored, cfg.Cleanup.Policies.All())
	a.Reconciler = reconcile.NewReconciler(a.Store, a.Blobs, cfg.Reconcile.Sources, a.Metrics, logger)

	a.JWT = auth.NewJWTManager(&cfg.JWT)
	a.Authn = auth.NewAuthenticator(a.JWT, cfg.Auth.ServiceKeys)
	a.Gate = auth.NewGate(a.Store)

	return a, nil
}

func (a *App) openStore(ctx context.Context, logger zerolog.Logger) error {
	switch a.Config.Storage.Type {
	case config.StoreTypeMemory:
		logger.Warn().Msg("Using in-memory document store, data is lost on exit")
		a.Store = storage.NewMemoryStore()
	default:
		db := a.Config.Database
		pg, err := storage.NewPostgresStore(db.DSN, storage.PoolConfig{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		if db.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return err
			}
			logger.Info().Msg("Database schema applied")
		}
		a.Store = pg
	}
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

func (a *App) openCounters(ctx context.Context, logger zerolog.Logger) error {
	if a.Config.Quota.CounterBackend != config.CounterBackendRedis {
		a.Counters = a.Store
		return nil
	}

	rc := a.Config.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	store := counters.NewRedisStore(client, "propstrack")
	a.Counters = store
	a.closers = append(a.closers, store.Close)
	logger.Info().Str("addr", rc.Addr).Msg("Usage counters stored in Redis")
	return nil
}

func (a *App) openBlobs(ctx context.Context, logger zerolog.Logger) error {
	if a.Config.Blob.Type == config.BlobTypeMemory {
		bucket := a.Config.Blob.S3.Bucket
		if bucket == "" {
			bucket = "local"
		}
		a.Blobs = blobstore.NewMemoryStore(bucket)
		return nil
	}

	s3, err := blobstore.NewS3Store(ctx, a.Config.Blob.S3)
	if err != nil {
		return err
	}
	a.Blobs = s3
	logger.Info().Str("bucket", s3.Bucket()).Msg("Object storage bucket configured")
	return nil
}

// Services returns the operations served by the REST API.
func (a *App) Services() api.Services {
	return api.Services{
		Limits:     a.Enforcer,
		Usage:      a.Maintainer,
		Manual:     a.Manual,
		Health:     a.Health,
		Reconciler: a.Reconciler,
		Authn:      a.Authn,
		Gate:       a.Gate,
		Gatherer:   a.Registry,
	}
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
