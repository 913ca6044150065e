package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"rwa/util"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// VelocityGuard throttles risk submissions per asset and source.
type VelocityGuard interface {
	Allow(ctx context.Context, assetID, source string) (bool, error)
}

// RedisVelocity counts submissions over a sliding window kept in a sorted set
// per asset and source. More than limit submissions inside interval are refused.
type RedisVelocity struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
	limit    int
	now      func() time.Time
}

func NewRedisVelocity(client *redis.Client, prefix string, interval time.Duration, limit int) *RedisVelocity {
	if prefix == "" {
		prefix = "rwa"
	}
	return &RedisVelocity{client: client, prefix: prefix, interval: interval, limit: limit, now: time.Now}
}

// Allow records the attempt and reports whether the window still has room.
// Trim, insert, count and expiry go out in one MULTI so concurrent engines
// see a consistent window.
func (v *RedisVelocity) Allow(ctx context.Context, assetID, source string) (bool, error) {
	now := v.now().UnixMilli()
	since := strconv.FormatInt(now-v.interval.Milliseconds(), 10)
	key := util.Key(v.prefix, "velocity", assetID, source)

	var count *redis.IntCmd
	_, err := v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+since)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: uuid.NewString()})
		count = pipe.ZCount(ctx, key, since, "+inf")
		pipe.PExpire(ctx, key, v.interval)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("velocity window %s: %w", key, err)
	}
	return count.Val() <= int64(v.limit), nil
}
