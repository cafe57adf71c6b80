// Package cache provides the AreaStore implementations backing the
// shared cache contract: a Redis-distributed primary store and an
// in-memory fallback, both instrumented with OpenTelemetry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// keyPrefix namespaces area records in the shared key/value space.
const keyPrefix = "weather:"

func areaKey(areaCode uint32) string {
	return fmt.Sprintf("%s%d", keyPrefix, areaCode)
}

// RedisAreaStore implements ports.AreaStore over Redis, giving
// read-your-write consistency within a single Report->Query ordering
// and surviving process restarts.
type RedisAreaStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// Config holds Redis connection and performance settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RecordTTL bounds how long a cached area survives without a new
	// report before it's evicted. Zero means no expiry.
	RecordTTL time.Duration
}

// NewRedisAreaStore connects to Redis and verifies reachability.
func NewRedisAreaStore(cfg Config, logger *zap.Logger) (*RedisAreaStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisAreaStore{client: rdb, logger: logger, ttl: cfg.RecordTTL}, nil
}

// Get implements ports.AreaStore.
func (r *RedisAreaStore) Get(ctx context.Context, areaCode uint32) (*domain.CachedArea, error) {
	tracer := otel.Tracer("cache")
	ctx, span := tracer.Start(ctx, "AreaStore.Get")

	defer span.End()

	key := areaKey(areaCode)
	span.SetAttributes(attribute.String("cache.key", key))

	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, nil
	}

	if err != nil {
		span.RecordError(err)
		r.logger.Error("area store get error", zap.String("key", key), zap.Error(err))

		return nil, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))

	var area domain.CachedArea
	if err := json.Unmarshal(raw, &area); err != nil {
		return nil, fmt.Errorf("decoding cached area %s: %w", key, err)
	}

	return &area, nil
}

// Put implements ports.AreaStore.
func (r *RedisAreaStore) Put(ctx context.Context, areaCode uint32, area *domain.CachedArea) error {
	tracer := otel.Tracer("cache")
	ctx, span := tracer.Start(ctx, "AreaStore.Put")

	defer span.End()

	key := areaKey(areaCode)
	span.SetAttributes(attribute.String("cache.key", key))

	raw, err := json.Marshal(area)
	if err != nil {
		return fmt.Errorf("encoding cached area %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		span.RecordError(err)
		r.logger.Error("area store put error", zap.String("key", key), zap.Error(err))

		return err
	}

	return nil
}

// Close closes the underlying Redis client.
func (r *RedisAreaStore) Close() error {
	return r.client.Close()
}
