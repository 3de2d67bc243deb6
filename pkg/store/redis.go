package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/types"
)

const (
	dialTimeout         = 5 * time.Second
	healthCheckInterval = 30 * time.Second
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// Redis is the production Store backend.
type Redis struct {
	rdb  *redis.Client
	stop chan struct{}
}

// NewRedis connects to Redis and starts a background health check.
// An unreachable server is not fatal here: every operation surfaces
// StoreUnavailable until the server comes back, and /health reports it.
func NewRedis(cfg RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DialTimeout: dialTimeout,
	})

	r := &Redis{
		rdb:  rdb,
		stop: make(chan struct{}),
	}

	logger := log.WithComponent("store")
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", rdb.Options().Addr).Msg("Redis not reachable at startup")
	} else {
		logger.Info().Str("addr", rdb.Options().Addr).Msg("Redis connected")
	}

	go r.healthLoop()
	return r
}

func (r *Redis) healthLoop() {
	logger := log.WithComponent("store")
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			if err := r.rdb.Ping(ctx).Err(); err != nil {
				logger.Warn().Err(err).Msg("Redis health check failed")
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

func (r *Redis) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if err := r.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return types.StoreUnavailable(err)
	}
	return nil
}

func (r *Redis) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, types.StoreUnavailable(err)
	}
	return res, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, types.StoreUnavailable(err)
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return types.StoreUnavailable(err)
	}
	return nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return types.StoreUnavailable(err)
	}
	return nil
}

// ScanKeys walks the keyspace with SCAN+MATCH. KEYS would be simpler but
// blocks the server on shared instances.
func (r *Redis) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, types.StoreUnavailable(err)
	}
	return keys, nil
}

func (r *Redis) ListPushFront(ctx context.Context, key, value string) error {
	if err := r.rdb.LPush(ctx, key, value).Err(); err != nil {
		return types.StoreUnavailable(err)
	}
	return nil
}

func (r *Redis) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if err := r.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return types.StoreUnavailable(err)
	}
	return nil
}

func (r *Redis) ListLength(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, types.StoreUnavailable(err)
	}
	return n, nil
}

func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, types.StoreUnavailable(err)
	}
	return vals, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, types.StoreUnavailable(err)
	}
	return n, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return types.StoreUnavailable(err)
	}
	return nil
}

func (r *Redis) Close() error {
	close(r.stop)
	return r.rdb.Close()
}
