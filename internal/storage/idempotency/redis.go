// Package idempotency stores Idempotency-Key reservations for order placement.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "orders:idempotency:"
	// pending marks a key whose request is still being processed.
	pending = "pending"
)

// acquireScript reserves KEYS[1] if it is free. It returns {1, ""} on success
// and {0, current value} otherwise.
var acquireScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return {1, ''}
end
local current = redis.call('GET', KEYS[1]) or ''
return {0, current}
`)

// RedisStore keeps one reservation per Idempotency-Key for a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a store whose reservations expire after ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Acquire reserves key. When the key is already taken, acquired is false and
// orderID holds the order created under it, or is empty while the first
// request is still in flight.
func (s *RedisStore) Acquire(ctx context.Context, key string) (orderID string, acquired bool, err error) {
	res, err := acquireScript.Run(ctx, s.client, []string{keyPrefix + key}, pending, s.ttl.Milliseconds()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("acquire idempotency key: unexpected reply %v", res)
	}

	ok, _ := res[0].(int64)
	if ok == 1 {
		return "", true, nil
	}
	current, _ := res[1].(string)
	if current == pending {
		current = ""
	}
	return current, false, nil
}

// Complete records the order created under key, keeping its TTL.
func (s *RedisStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, orderID, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release frees key so the request can be retried.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
