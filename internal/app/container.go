package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/platform/cache"
	"github.com/odyssey-erp/wasteplan/internal/platform/db"
	"github.com/odyssey-erp/wasteplan/internal/schedule"
)

// Container holds the wired service graph and the connections it owns.
type Container struct {
	Schedule *schedule.Service
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	logger   *slog.Logger
}

// BuildOptions carries collaborators created by the caller.
type BuildOptions struct {
	Recorder schedule.ReconcileRecorder
	// SkipCache leaves the month-view cache disabled.
	SkipCache bool
}

// Build connects the configured backend and assembles the schedule service.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, opts BuildOptions) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{logger: logger}

	var (
		layoutRepo layout.Repository
		planRepo   plan.Repository
		actuals    schedule.ActualResultSource
		companies  schedule.CompanyDirectory
	)
	switch cfg.StoreBackend {
	case BackendMemory:
		layoutRepo = layout.NewMemoryRepository()
		planRepo = plan.NewMemoryRepository()
		actuals = schedule.NewMemoryActualSource()
		companies = schedule.StaticCompanyDirectory{}
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		layoutRepo = layout.NewPgRepository(pool)
		planRepo = plan.NewPgRepository(pool)
		actuals = schedule.NewPgActualSource(pool)
		companies = schedule.NewPgCompanyDirectory(pool)
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}

	var viewCache *schedule.Cache
	if !opts.SkipCache && !InTestMode() && cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, month cache disabled", slog.Any("error", err))
		} else {
			c.Redis = client
			viewCache = schedule.NewCache(client, cfg.CacheTTL, logger)
		}
	}

	c.Schedule = schedule.NewService(
		layout.NewRegistry(layoutRepo, logger),
		plan.NewStore(planRepo, logger),
		actuals,
		schedule.Options{
			Companies: companies,
			Cache:     viewCache,
			Recorder:  opts.Recorder,
			Logger:    logger,
		},
	)
	logger.Info("service graph ready",
		slog.String("backend", cfg.StoreBackend),
		slog.Bool("cache", viewCache != nil))
	return c, nil
}

// Close releases the owned connections.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
