package cache

import (
	"context"
	"errors"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/redis/go-redis/v9"
)

// Redis implements Backend over a go-redis client. The commander
// indirection exists so the v8 mock client can drive the same code in
// tests that the v9 production client runs.
type Redis struct {
	client commander
}

type commander interface {
	get(ctx context.Context, key string) (string, error)
	set(ctx context.Context, key, value string, ttl time.Duration) error
	del(ctx context.Context, keys ...string) error
	incr(ctx context.Context, key string) (int64, error)
	ping(ctx context.Context) error
	close() error
}

// errCacheMiss is the commander-level miss marker, mapped from each
// client's redis.Nil sentinel.
var errCacheMiss = errors.New("cache miss")

// NewRedis opens a v9 client against the given address.
func NewRedis(addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &Redis{client: v9commander{c: client}}
}

// NewRedisV8 wraps an existing v8-compatible client, e.g. redismock.
func NewRedisV8(client redisv8.UniversalClient) *Redis {
	return &Redis{client: v8commander{c: client}}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.get(ctx, key)
	if errors.Is(err, errCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.set(ctx, key, string(value), ttl)
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.del(ctx, keys...)
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.incr(ctx, key)
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.ping(ctx) }
func (r *Redis) Close() error                   { return r.client.close() }

type v9commander struct {
	c *redis.Client
}

func (v v9commander) get(ctx context.Context, key string) (string, error) {
	val, err := v.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errCacheMiss
	}
	return val, err
}

func (v v9commander) set(ctx context.Context, key, value string, ttl time.Duration) error {
	return v.c.Set(ctx, key, value, ttl).Err()
}

func (v v9commander) del(ctx context.Context, keys ...string) error {
	return v.c.Del(ctx, keys...).Err()
}

func (v v9commander) incr(ctx context.Context, key string) (int64, error) {
	return v.c.Incr(ctx, key).Result()
}

func (v v9commander) ping(ctx context.Context) error { return v.c.Ping(ctx).Err() }
func (v v9commander) close() error                   { return v.c.Close() }

type v8commander struct {
	c redisv8.UniversalClient
}

func (v v8commander) get(ctx context.Context, key string) (string, error) {
	val, err := v.c.Get(ctx, key).Result()
	if errors.Is(err, redisv8.Nil) {
		return "", errCacheMiss
	}
	return val, err
}

func (v v8commander) set(ctx context.Context, key, value string, ttl time.Duration) error {
	return v.c.Set(ctx, key, value, ttl).Err()
}

func (v v8commander) del(ctx context.Context, keys ...string) error {
	return v.c.Del(ctx, keys...).Err()
}

func (v v8commander) incr(ctx context.Context, key string) (int64, error) {
	return v.c.Incr(ctx, key).Result()
}

func (v v8commander) ping(ctx context.Context) error { return v.c.Ping(ctx).Err() }
func (v v8commander) close() error                   { return v.c.Close() }
