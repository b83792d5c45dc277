package dedup

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "whalebot:dedup:"

// setNXer is the slice of the redis client the store needs
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisStore shares dedup state between processes with SET NX PX.
// Expiry is enforced by Redis, so the now argument is unused.
type RedisStore struct {
	client setNXer
	ttl    time.Duration
}

// NewRedisStore wraps an existing client
func NewRedisStore(client setNXer, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// pingTimeout bounds the startup reachability check
const pingTimeout = 3 * time.Second

// NewRedisStoreFromURL builds a store from a redis:// URL. Only a malformed URL
// is an error: an unreachable server is logged and the store is returned
// anyway, since the client reconnects lazily and CheckAndMark failures fail open.
// The returned client must be closed by the caller.
func NewRedisStoreFromURL(ctx context.Context, rawURL string, ttl time.Duration) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("⚠️ Redis unreachable, dedup will fail open until it recovers")
	}
	return NewRedisStore(client, ttl), client, nil
}

// Name implements Store
func (r *RedisStore) Name() string { return "redis" }

// CheckAndMark implements Store
func (r *RedisStore) CheckAndMark(ctx context.Context, key string, _ time.Time) (bool, error) {
	set, err := r.client.SetNX(ctx, keyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	return !set, nil
}
