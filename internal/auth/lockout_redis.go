package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The scripts take KEYS = {lock, failures, in-flight}. Each runs atomically on
// the server, so the threshold check and the reservation cannot interleave
// across instances.
var (
	beginScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
local failures = tonumber(redis.call('GET', KEYS[2]) or '0')
local inflight = tonumber(redis.call('GET', KEYS[3]) or '0')
if failures + inflight >= tonumber(ARGV[1]) then return 0 end
redis.call('INCR', KEYS[3])
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 1
`)

	failureScript = redis.NewScript(`
local inflight = tonumber(redis.call('GET', KEYS[3]) or '0')
if inflight > 0 then redis.call('DECR', KEYS[3]) end
local failures = redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
if failures >= tonumber(ARGV[1]) and redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SET', KEYS[1], failures, 'PX', ARGV[2])
end
return failures
`)

	successScript = redis.NewScript(`
redis.call('DEL', KEYS[1], KEYS[2])
local inflight = tonumber(redis.call('GET', KEYS[3]) or '0')
if inflight > 0 then redis.call('DECR', KEYS[3]) end
return 1
`)

	releaseScript = redis.NewScript(`
local inflight = tonumber(redis.call('GET', KEYS[3]) or '0')
if inflight > 0 then redis.call('DECR', KEYS[3]) end
return inflight
`)
)

// RedisGuard keeps lockout state in Redis so every instance behind a load
// balancer sees the same counters. Expiry is left to key TTLs.
type RedisGuard struct {
	redis  redis.UniversalClient
	config LockoutConfig
	prefix string
}

func NewRedisGuard(client redis.UniversalClient, cfg LockoutConfig) *RedisGuard {
	return &RedisGuard{redis: client, config: cfg.withDefaults(), prefix: "bfg"}
}

func (g *RedisGuard) LockoutDuration() time.Duration {
	return g.config.Duration
}

func (g *RedisGuard) failuresKey(source string) string {
	return g.prefix + ":fail:" + source
}

func (g *RedisGuard) lockKey(source string) string {
	return g.prefix + ":lock:" + source
}

func (g *RedisGuard) inFlightKey(source string) string {
	return g.prefix + ":inflight:" + source
}

func (g *RedisGuard) keys(source string) []string {
	return []string{g.lockKey(source), g.failuresKey(source), g.inFlightKey(source)}
}

func (g *RedisGuard) IsLocked(ctx context.Context, source string) (bool, error) {
	n, err := g.redis.Exists(ctx, g.lockKey(source)).Result()
	if err != nil {
		return false, StoreError("check lockout", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Begin(ctx context.Context, source string) (bool, error) {
	granted, err := beginScript.Run(ctx, g.redis, g.keys(source),
		g.config.Threshold, g.config.Duration.Milliseconds()).Int64()
	if err != nil {
		return false, StoreError("reserve attempt", err)
	}
	return granted == 1, nil
}

// RecordFailure increments the counter and sets the lock once the threshold
// is reached. The counter shares the lockout window as its TTL so stale
// failures age out on their own.
func (g *RedisGuard) RecordFailure(ctx context.Context, source string) error {
	err := failureScript.Run(ctx, g.redis, g.keys(source),
		g.config.Threshold, g.config.Duration.Milliseconds()).Err()
	if err != nil {
		return StoreError("record failure", err)
	}
	return nil
}

func (g *RedisGuard) RecordSuccess(ctx context.Context, source string) error {
	if err := successScript.Run(ctx, g.redis, g.keys(source)).Err(); err != nil {
		return StoreError("clear lockout", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, source string) error {
	if err := releaseScript.Run(ctx, g.redis, g.keys(source)).Err(); err != nil {
		return StoreError("release attempt", err)
	}
	return nil
}

// Failures returns the current failure count for source.
func (g *RedisGuard) Failures(ctx context.Context, source string) (int, error) {
	count, err := g.redis.Get(ctx, g.failuresKey(source)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read failures: %w", err)
	}
	return count, nil
}
