package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/evaluator"
	"github.com/foursyz/policyd/internal/lifecycle"
	"github.com/foursyz/policyd/internal/observability"
	"github.com/foursyz/policyd/internal/platform/cache"
	"github.com/foursyz/policyd/internal/platform/db"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/shared"
)

// Container holds the wired stores and services shared by every binary.
type Container struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	Policies    *policy.Service
	Assignments *assignment.Service
	Evaluator   *evaluator.Evaluator
	Cache       *evaluator.Cache
	Lifecycle   *lifecycle.Manager
	Audit       shared.AuditRecorder
}

// Build connects the configured backends and wires the services on top.
// Postgres migrations run when PG_AUTO_MIGRATE is set; Redis is optional and
// a failed ping only disables the decision cache.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	var (
		policyRepo     policy.Repository
		assignmentRepo assignment.Repository
	)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		pool, err := db.Connect(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ConnectTimeout: cfg.ConnectTimeout})
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		if cfg.PGAutoMigrate && !InTestMode() {
			if err := db.RunMigrations(pool); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("schema migrations applied")
		}
		policyRepo = policy.NewPostgresRepository(pool)
		assignmentRepo = assignment.NewPostgresRepository(pool)
		c.Audit = shared.NewAuditLogger(pool)
	case StoreDriverMemory:
		policyRepo = policy.NewMemoryRepository()
		assignmentRepo = assignment.NewMemoryRepository()
		c.Audit = &shared.MemoryAudit{}
	default:
		return nil, fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
	}

	c.Policies = policy.NewService(policyRepo, logger)
	c.Policies.SetAuditRecorder(c.Audit)
	c.Assignments = assignment.NewService(assignmentRepo, c.Policies, logger)
	c.Assignments.SetAuditRecorder(c.Audit)

	c.Evaluator = evaluator.New(c.Assignments, c.Policies, logger)
	c.Evaluator.SetTimeout(cfg.EvalTimeout)
	c.Evaluator.SetObserver(c.Metrics)

	if cfg.RedisAddr != "" && !InTestMode() {
		client, err := cache.Dial(ctx, cfg.RedisAddr, cfg.ConnectTimeout)
		if err != nil {
			logger.Warn("decision cache disabled", slog.Any("error", err))
		} else {
			c.Redis = client
			c.Cache = evaluator.NewCache(client, cfg.EvalCacheTTL, logger)
			c.Cache.SetObserver(c.Metrics)
			c.Evaluator.SetCache(c.Cache)
			c.Policies.SetInvalidator(c.Cache)
			c.Assignments.SetInvalidator(c.Cache)
		}
	}

	source, err := c.legacySource()
	if err != nil {
		c.Close()
		return nil, err
	}
	manager, err := lifecycle.NewManager(c.Policies, c.Assignments, source, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Lifecycle = manager
	return c, nil
}

func (c *Container) legacySource() (lifecycle.LegacySource, error) {
	switch c.Config.LegacySource {
	case LegacySourceNone, "":
		return nil, nil
	case LegacySourceFile:
		return lifecycle.FileSource{Path: c.Config.LegacyRolesFile}, nil
	case LegacySourcePostgres:
		if c.Pool == nil {
			return nil, errors.New("app: postgres legacy source requires a postgres store")
		}
		return lifecycle.NewPostgresSource(c.Pool), nil
	default:
		return nil, fmt.Errorf("app: unsupported legacy source %q", c.Config.LegacySource)
	}
}

// Ready pings the backing stores; Redis failures are tolerated since the
// evaluator degrades to direct evaluation.
func (c *Container) Ready(r *http.Request) error {
	if c.Pool != nil {
		if err := c.Pool.Ping(r.Context()); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(r.Context()).Err(); err != nil {
			c.Logger.Warn("redis ping", slog.Any("error", err))
		}
	}
	return nil
}

// Close releases the backend connections.
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
