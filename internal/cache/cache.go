// Package cache provides a best-effort read-through cache in front of the
// durable store. Every operation degrades silently: callers always have a
// database fallback and must never treat a cache miss or outage as an error.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomlens/internal/config"
)

type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores the value and reports whether the write happened.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	// Delete removes the key and reports whether the delete happened.
	Delete(ctx context.Context, key string) bool
}

// Noop is the null-object handle used when the backend is disabled or dead.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)                 { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) bool    { return false }
func (Noop) Delete(context.Context, string) bool                        { return false }

type Redis struct {
	client      *redis.Client
	maxFailures int64
	failures    atomic.Int64
	log         zerolog.Logger
}

// New builds the cache handle. A disabled config or an unreachable backend
// yields the Noop handle rather than an error; connection attempts are not
// retried beyond the initial capped pings.
func New(ctx context.Context, cfgRedis config.RedisConfig, cfgCache config.CacheConfig, log zerolog.Logger) Cache {
	if !cfgCache.Enabled {
		return Noop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfgRedis.Addr,
		Password: cfgRedis.Password,
		DB:       cfgRedis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("cache backend unreachable, running without cache")
		_ = client.Close()
		return Noop{}
	}

	maxFailures := int64(cfgCache.MaxFailures)
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &Redis{
		client:      client,
		maxFailures: maxFailures,
		log:         log,
	}
}

// NewWithClient wraps an existing client, used where api and worker share one
// redis connection for queue and cache.
func NewWithClient(client *redis.Client, maxFailures int, log zerolog.Logger) *Redis {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Redis{
		client:      client,
		maxFailures: int64(maxFailures),
		log:         log,
	}
}

// tripped reports whether the handle gave up on the backend. Once the
// consecutive-failure cap is hit the cache stays silent for the process
// lifetime so a dead backend cannot generate unbounded retry load.
func (c *Redis) tripped() bool {
	return c.failures.Load() >= c.maxFailures
}

func (c *Redis) observe(err error) {
	if err == nil {
		c.failures.Store(0)
		return
	}
	if n := c.failures.Add(1); n == c.maxFailures {
		c.log.Warn().Err(err).Msg("cache disabled after repeated failures")
	}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.tripped() {
		return nil, false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.observe(nil)
		return nil, false
	}
	if err != nil {
		c.observe(err)
		return nil, false
	}
	c.observe(nil)
	return val, true
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if c.tripped() {
		return false
	}
	err := c.client.Set(ctx, key, value, ttl).Err()
	c.observe(err)
	return err == nil
}

func (c *Redis) Delete(ctx context.Context, key string) bool {
	if c.tripped() {
		return false
	}
	err := c.client.Del(ctx, key).Err()
	c.observe(err)
	return err == nil
}
