package noncetracker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBackend shares one replay window across a fleet of relay instances
// using a sorted set keyed by nonce, scored by first-seen unix-ms.
type RedisBackend struct {
	client *redis.Client
	ctx    context.Context
	key    string
}

// NewRedisBackend creates a nonce backend over an existing Redis client.
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = "secure-relay:nonces"
	}
	return &RedisBackend{client: client, ctx: context.Background(), key: key}
}

// CheckAndInsert implements Backend using ZADD NX plus a capacity trim. A
// member that is already present is refreshed only once its score is
// older than ttl.
func (r *RedisBackend) CheckAndInsert(nonce uuid.UUID, firstSeen time.Time, ttl time.Duration, capacity int) bool {
	member := nonce.String()
	z := redis.Z{Score: float64(firstSeen.UnixMilli()), Member: member}

	added, err := r.client.ZAddNX(r.ctx, r.key, z).Result()
	if err != nil {
		return false
	}
	if added == 0 {
		cutoff := float64(firstSeen.Add(-ttl).UnixMilli())
		existing, err := r.client.ZScore(r.ctx, r.key, member).Result()
		if err != nil || existing >= cutoff {
			return false
		}
		if err := r.client.ZAdd(r.ctx, r.key, z).Err(); err != nil {
			return false
		}
	}

	if n, err := r.client.ZCard(r.ctx, r.key).Result(); err == nil && int(n) > capacity {
		r.client.ZRemRangeByRank(r.ctx, r.key, 0, n-int64(capacity)-1)
	}
	return true
}

// Sweep implements Backend by trimming everything scored before cutoff.
func (r *RedisBackend) Sweep(cutoff time.Time) {
	r.client.ZRemRangeByScore(r.ctx, r.key, "-inf", strconv.FormatInt(cutoff.UnixMilli(), 10))
}

// Len implements Backend.
func (r *RedisBackend) Len() int {
	n, err := r.client.ZCard(r.ctx, r.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Clear implements Backend.
func (r *RedisBackend) Clear() {
	r.client.Del(r.ctx, r.key)
}
