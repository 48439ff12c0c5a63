package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

const (
	redisProbeName = "redis"
	leaderboardKey = "idleco:leaderboard"
)

// redisKV is the interface used by RedisCache. It is implemented by the
// real go-redis client via realRedisKV and by test doubles. Get reports a
// missing key as redis.Nil.
type redisKV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	PingResult(ctx context.Context) (string, error)
	Close() error
}

// realRedisKV adapts a *redis.Client to the redisKV interface. The wrapper
// exists so tests can inject a fake without constructing redis result
// values.
type realRedisKV struct {
	client *redis.Client
}

func (r *realRedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *realRedisKV) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *realRedisKV) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisKV) Close() error {
	return r.client.Close()
}

// RedisCache stores the rendered leaderboard snapshot under a single key.
// The snapshot is derived state: Postgres remains the source of truth and
// readers fall back to it when the cache is cold or down.
type RedisCache struct {
	kv  redisKV
	ttl time.Duration
	cb  *gobreaker.CircuitBreaker
}

// NewRedisCache builds the cache. go-redis dials lazily, so construction is
// cheap and never fails. ttl bounds snapshot staleness; it should
// comfortably exceed the tick interval so readers rarely miss.
func NewRedisCache(cfg config.RedisConfig, ttl time.Duration, cb *gobreaker.CircuitBreaker) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{kv: &realRedisKV{client: client}, ttl: ttl, cb: cb}
}

// SetLeaderboard stores the snapshot as JSON.
func (c *RedisCache) SetLeaderboard(ctx context.Context, entries []game.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding leaderboard: %w", err)
	}
	if err := c.kv.Set(ctx, leaderboardKey, string(data), c.ttl); err != nil {
		return fmt.Errorf("writing leaderboard: %w", err)
	}
	return nil
}

// Leaderboard returns the cached snapshot, or (nil, nil) when no snapshot
// is cached.
func (c *RedisCache) Leaderboard(ctx context.Context) ([]game.LeaderboardEntry, error) {
	val, err := c.kv.Get(ctx, leaderboardKey)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}

	var entries []game.LeaderboardEntry
	if err := json.Unmarshal([]byte(val), &entries); err != nil {
		return nil, fmt.Errorf("decoding leaderboard: %w", err)
	}
	return entries, nil
}

// Probe sends a PING command to Redis and validates the PONG response. The
// call is wrapped in the circuit breaker; after 3 consecutive failures the
// breaker opens and subsequent calls return immediately with "circuit open".
func (c *RedisCache) Probe(ctx context.Context) game.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		val, err := c.kv.PingResult(ctx)
		if err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return nil, fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil, nil
	})

	return probeResult(redisProbeName, start, err)
}

// Close releases the client's connections.
func (c *RedisCache) Close() error {
	return c.kv.Close()
}
