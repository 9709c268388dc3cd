package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/config"
	"github.com/vadiminshakov/pricewatch/internal/cache"
	"github.com/vadiminshakov/pricewatch/internal/clients"
	"github.com/vadiminshakov/pricewatch/internal/services/pricing"
	"github.com/vadiminshakov/pricewatch/internal/services/trend"
	"github.com/vadiminshakov/pricewatch/internal/storage/snapshots"
)

// NewSnapshotStore opens the configured storage backend.
func NewSnapshotStore(cfg config.StorageConfig) (snapshots.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return snapshots.NewSQLiteStore(cfg.Path)
	case config.BackendPostgres:
		return snapshots.NewPostgresStore(cfg.DSN)
	case config.BackendWAL:
		return snapshots.NewWALStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// NewCache builds the configured cache. It returns nil when caching is disabled.
func NewCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return cache.NewMemoryCache(cfg.TTL), nil
	case config.CacheRedis:
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// resetCache drops views cached by a previous run. They depend on the vendor
// allow-list and match mode, which may have changed since.
func resetCache(ctx context.Context, l *zap.Logger, c cache.Cache) {
	if c == nil {
		return
	}
	if err := c.Clear(ctx); err != nil {
		l.Warn("failed to clear view cache", zap.Error(err))
	}
}

// App the wired components behind every command.
type App struct {
	Config  config.Config
	Store   snapshots.Store
	Cache   cache.Cache
	Pricing *pricing.Service
}

// NewApp opens storage and cache and wires the pricing service.
func NewApp(ctx context.Context, l *zap.Logger, cfg config.Config) (*App, error) {
	store, err := NewSnapshotStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	c, err := NewCache(ctx, cfg.Cache)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open %s cache: %w", cfg.Cache.Backend, err)
	}
	resetCache(ctx, l, c)

	upstream := clients.NewUpstreamClient(l.Named("upstream"), clients.UpstreamConfig{
		URL:         cfg.Upstream.URL,
		APIKey:      cfg.Upstream.APIKey,
		MinInterval: cfg.Upstream.MinInterval,
		Timeout:     cfg.Upstream.Timeout,
		MaxRetries:  cfg.Upstream.MaxRetries,
	})

	opts := []pricing.Option{}
	if c != nil {
		opts = append(opts, pricing.WithCache(c, cfg.Cache.TTL))
	}
	if cfg.MatchByName {
		opts = append(opts, pricing.WithMatchMode(trend.MatchByName))
	}

	return &App{
		Config:  cfg,
		Store:   store,
		Cache:   c,
		Pricing: pricing.NewService(l.Named("pricing"), upstream, cfg.Vendors, store, opts...),
	}, nil
}

// Close releases storage and cache.
func (a *App) Close() error {
	if a.Cache != nil {
		a.Cache.Close()
	}
	return a.Store.Close()
}
