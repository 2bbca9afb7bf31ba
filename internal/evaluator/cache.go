package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "policyd:decision:version"

// CacheObserver receives hit/miss notifications.
type CacheObserver interface {
	ObserveCache(hit bool)
}

// Cache stores decisions in Redis under a global version. Any policy or
// assignment mutation bumps the version, orphaning every cached decision.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	observer CacheObserver
	group    singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// SetObserver registers a metrics sink.
func (c *Cache) SetObserver(o CacheObserver) {
	c.observer = o
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached decision by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// Fetch returns the cached decision for req or computes it with loader.
// Concurrent misses for the same key share one loader call. The shared call
// is detached from the caller's cancellation, so loader must bound itself;
// each caller still gives up on its own ctx. Redis failures degrade to an
// uncached evaluation.
func (c *Cache) Fetch(ctx context.Context, req Request, loader func(context.Context, Request) (Decision, error)) (Decision, error) {
	if c == nil || c.client == nil {
		return loader(ctx, req)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		c.logger.Warn("decision cache version", slog.Any("error", err))
		return loader(ctx, req)
	}
	key := buildKey(ver, req)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var d Decision
		if err := json.Unmarshal(payload, &d); err == nil {
			c.observe(true)
			return d, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		c.logger.Warn("decision cache read", slog.Any("error", err))
	}
	c.observe(false)

	loadCtx := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		d, err := loader(loadCtx, req)
		if err != nil {
			return Decision{}, err
		}
		raw, err := json.Marshal(d)
		if err == nil {
			if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
				c.logger.Warn("decision cache write", slog.Any("error", err))
			}
		}
		return d, nil
	})
	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Decision{}, res.Err
		}
		return res.Val.(Decision), nil
	}
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCache(hit)
	}
}

func buildKey(ver int64, req Request) string {
	return strings.Join([]string{
		"policyd", "decision", strconv.FormatInt(ver, 10),
		strconv.Quote(req.UserID), strconv.Quote(req.Action), strconv.Quote(req.Resource),
	}, ":")
}
