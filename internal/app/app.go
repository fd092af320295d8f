// Package app wires the scheduling services from configuration so every
// binary builds the same stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/telemedicine-scheduling/internal/api"
	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/config"
	"github.com/hackgods/telemedicine-scheduling/internal/db"
	"github.com/hackgods/telemedicine-scheduling/internal/events"
	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
	"github.com/hackgods/telemedicine-scheduling/internal/recurring"
	redisclient "github.com/hackgods/telemedicine-scheduling/internal/redis"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
	"github.com/hackgods/telemedicine-scheduling/internal/waitlist"
)

type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client // nil when Redis is unreachable
	Registry *prometheus.Registry
	Metrics  *metrics.SchedulingMetrics
	Locker   redisclient.Locker

	Store      *scheduling.PgStore
	Controller *scheduling.Controller
	Generator  *recurring.Generator
	Matcher    *waitlist.Matcher
}

// New connects to Postgres and, when possible, Redis. Postgres is required;
// without Redis the series and waitlist locks are process-local.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewSchedulingMetrics(a.Registry)

	var locker redisclient.Locker = redisclient.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process locks")
		} else {
			a.Redis = rdb
			locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
			logger.Info().Msg("connected to Redis")
		}
	}

	a.Locker = locker

	clk := clock.Real()
	a.Store = scheduling.NewPgStore(pool)
	a.Controller = scheduling.NewController(a.Store, scheduling.NewSlotStore(clk, a.Metrics), clk, logger, scheduling.ControllerConfig{
		MaxReschedules: cfg.MaxReschedules,
		Metrics:        a.Metrics,
	})
	a.Generator = recurring.NewGenerator(a.Controller, locker, logger, recurring.Config{
		MaxSkipRetries: cfg.RecurringMaxSkipRetries,
		HorizonDays:    cfg.RecurringHorizonDays,
		Metrics:        a.Metrics,
	})
	a.Matcher = waitlist.NewMatcher(a.Controller, locker, logger, waitlist.Config{
		ResponseWindow: cfg.MatchResponseWindow,
		DefaultTTL:     cfg.WaitlistDefaultTTL,
		BatchSize:      cfg.WaitlistBatchSize,
		Metrics:        a.Metrics,
	})
	return a, nil
}

// RouterConfig exposes the services to the HTTP layer.
func (a *App) RouterConfig(version string) api.RouterConfig {
	rc := api.RouterConfig{
		Controller: a.Controller,
		Generator:  a.Generator,
		Matcher:    a.Matcher,
		Postgres:   a.Pool,
		Gatherer:   a.Registry,
		Logger:     a.Logger,
		Env:        a.Config.Env,
		Version:    version,
	}
	if a.Redis != nil {
		rc.Redis = api.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })
	}
	return rc
}

// Emitter returns the event sink selected by EVENT_SINK.
func (a *App) Emitter(ctx context.Context) (events.Emitter, error) {
	switch a.Config.EventSink {
	case "redis":
		if a.Redis == nil {
			return nil, fmt.Errorf("event sink redis needs a reachable Redis at %s", a.Config.RedisAddr)
		}
		return events.NewRedisStreamEmitter(a.Redis, a.Config.EventStream), nil
	case "sqs":
		return events.NewSQSEmitterFromEnv(ctx, a.Config.SQSQueueURL)
	default:
		return events.NewLogEmitter(a.Logger), nil
	}
}

func (a *App) Relay(ctx context.Context) (*events.Relay, error) {
	emitter, err := a.Emitter(ctx)
	if err != nil {
		return nil, err
	}
	return events.NewRelay(events.NewPgOutbox(a.Pool), emitter, a.Logger).
		WithBatchSize(a.Config.OutboxBatchSize), nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	a.Pool.Close()
}
