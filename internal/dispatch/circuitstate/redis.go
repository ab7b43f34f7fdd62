package circuitstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared Redis instance, used when multiple
// engine/harness processes need to agree on circuit state (e.g. the
// reference multi-device test rig). Keys are namespaced by the identifier
// passed to NewRedis; the engine passes the device fingerprint once at
// Init, so every session on that device shares one breaker state.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis builds a Redis-backed Store. addr/password follow the same
// shape as the teacher's rate limiter Redis config.
func NewRedis(addr, password string, sessionID string) *Redis {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: client, keyPrefix: fmt.Sprintf("rejourney:circuit:%s", sessionID)}
}

func (r *Redis) failuresKey() string { return r.keyPrefix + ":failures" }
func (r *Redis) openKey() string     { return r.keyPrefix + ":open_until" }

func (r *Redis) RecordFailure(ctx context.Context) (int64, error) {
	count, err := r.client.Incr(ctx, r.failuresKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("circuitstate: incr failures: %w", err)
	}
	// First failure after a clean window: bound the counter's lifetime so a
	// long-idle session doesn't carry a stale failure count into its next
	// burst of traffic.
	if count == 1 {
		r.client.Expire(ctx, r.failuresKey(), time.Hour)
	}
	return count, nil
}

func (r *Redis) RecordSuccess(ctx context.Context) error {
	if err := r.client.Set(ctx, r.failuresKey(), 0, 0).Err(); err != nil {
		return fmt.Errorf("circuitstate: reset failures: %w", err)
	}
	return nil
}

func (r *Redis) Open(ctx context.Context, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return r.client.Del(ctx, r.openKey()).Err()
	}
	if err := r.client.Set(ctx, r.openKey(), strconv.FormatInt(until.UnixMilli(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("circuitstate: set open deadline: %w", err)
	}
	return nil
}

func (r *Redis) OpenUntil(ctx context.Context) (time.Time, error) {
	val, err := r.client.Get(ctx, r.openKey()).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("circuitstate: get open deadline: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("circuitstate: parse open deadline: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// Close releases the underlying Redis client.
func (r *Redis) Close() error { return r.client.Close() }
