package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

const redisPingTimeout = 5 * time.Second

// RedisCache stores entries in Redis under a key prefix, so several
// gateway replicas share one metadata cache.
type RedisCache struct {
	logger     observability.Logger
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache connects to the Redis server at rawURL and verifies the
// connection with a PING.
func NewRedisCache(
	rawURL, keyPrefix string,
	defaultTTL time.Duration,
	logger observability.Logger,
) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	c := &RedisCache{
		logger:     logger,
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
	}

	logger.Info("redis cache initialized",
		observability.String("addr", opts.Addr),
		observability.String("keyPrefix", keyPrefix),
		observability.Duration("defaultTTL", defaultTTL))

	return c, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "cache.Get", key)
	defer span.End()

	val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	switch {
	case err == nil:
		c.hits.Add(1)
		span.SetAttributes(
			attribute.Bool("cache.hit", true),
			attribute.Int("cache.value_size", len(val)),
		)
		return val, nil
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	default:
		c.fail(span, "redis get failed", key, err)
		return nil, err
	}
}

// Set stores a value in Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "cache.Set", key)
	defer span.End()
	span.SetAttributes(attribute.Int("cache.value_size", len(value)))

	ttl = expiry(ttl, c.defaultTTL)
	if ttl < 0 {
		ttl = 0
	}

	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		c.fail(span, "redis set failed", key, err)
		return err
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Int("size", len(value)))
	return nil
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "cache.Delete", key)
	defer span.End()

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		c.fail(span, "redis delete failed", key, err)
		return err
	}
	return nil
}

// Exists checks if a key exists in Redis.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.startSpan(ctx, "cache.Exists", key)
	defer span.End()

	n, err := c.client.Exists(ctx, c.keyPrefix+key).Result()
	if err != nil {
		c.fail(span, "redis exists failed", key, err)
		return false, err
	}
	return n > 0, nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics. Size is not tracked for Redis.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

func (c *RedisCache) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return otel.Tracer(cacheTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
}

func (c *RedisCache) fail(span trace.Span, msg, key string, err error) {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error(msg,
		observability.String("key", key),
		observability.Error(err))
}
