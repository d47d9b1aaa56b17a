package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix      = "idem"
	headerIdempotencyKey = "Idempotency-Key"
	pendingOutcome       = "pending"
)

// RedisDeduper stores idempotency keys in Redis so all instances recognise
// replays of the same ordering request. A key is pending while the first
// request runs and then holds that request's response.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, scope, key string) string {
	return fmt.Sprintf("%s:%s:%s:%s", userID, dedupeKeyPrefix, scope, key)
}

// Add claims the key as pending. It returns true when the key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, scope, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, scope, key), pendingOutcome, r.ttl).Result()
}

// Settle replaces a pending key with the response of the request that claimed
// it. Expired keys are not recreated.
func (r *RedisDeduper) Settle(ctx context.Context, userID, scope, key string, outcome []byte) error {
	return r.client.SetXX(ctx, r.key(userID, scope, key), outcome, r.ttl).Err()
}

// Outcome returns the stored response. settled is false while the claiming
// request is still running or the key has expired.
func (r *RedisDeduper) Outcome(ctx context.Context, userID, scope, key string) (outcome []byte, settled bool, err error) {
	data, err := r.client.Get(ctx, r.key(userID, scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(data) == pendingOutcome {
		return nil, false, nil
	}
	return data, true, nil
}

// Remove deletes a previously recorded key so the caller may retry after a
// failed request.
func (r *RedisDeduper) Remove(ctx context.Context, userID, scope, key string) error {
	return r.client.Del(ctx, r.key(userID, scope, key)).Err()
}
