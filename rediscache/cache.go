// Package rediscache provides a Redis-backed response cache for rrio transforms. Unlike
// rrio.MemoryCache, entries survive worker and process restarts for as long as their TTL.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces cache keys.
	DefaultPrefix = "rrio:cache:"

	// DefaultTTL is how long a cached response lives.
	DefaultTTL = time.Hour
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Connect creates a Redis client from cfg and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// Cache stores responses as JSON under prefixed keys with a TTL. It implements
// rrio.Cache[Resp] and is safe for concurrent use.
type Cache[Resp any] struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithTTL sets the entry lifetime. Zero stores entries without expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// New creates a Cache on top of rdb.
//
// Example:
//
//	rdb, err := rediscache.Connect(ctx, rediscache.Config{URL: "redis://localhost:6379/0"})
//	if err != nil {
//	    return err
//	}
//	cache := rediscache.New[Item](rdb, rediscache.WithTTL(24*time.Hour))
//	t, err := rrio.New(factory, rrio.WithCache[Item](cache))
func New[Resp any](rdb redis.Cmdable, opts ...Option) *Cache[Resp] {
	o := &options{prefix: DefaultPrefix, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(o)
	}
	return &Cache[Resp]{rdb: rdb, prefix: o.prefix, ttl: o.ttl}
}

func (c *Cache[Resp]) key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Get implements rrio.Cache.
func (c *Cache[Resp]) Get(ctx context.Context, fingerprint string) (Resp, bool, error) {
	var resp Resp

	data, err := c.rdb.Get(ctx, c.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return resp, false, nil
	}
	if err != nil {
		return resp, false, fmt.Errorf("get failed: %w", err)
	}

	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, false, fmt.Errorf("failed to decode cached response: %w", err)
	}
	return resp, true, nil
}

// Put implements rrio.Cache.
func (c *Cache[Resp]) Put(ctx context.Context, fingerprint string, resp Resp) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(fingerprint), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}
