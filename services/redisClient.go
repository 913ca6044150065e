package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	RedisClient *redis.Client
	oneRedis    sync.Once
)

// ConnectRedis returns the process-wide redis client, creating it on first use,
// and checks the server answers.
func ConnectRedis(ctx context.Context, host string) (*redis.Client, error) {
	oneRedis.Do(func() {
		RedisClient = redis.NewClient(&redis.Options{
			Addr:         host,
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := RedisClient.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("could not connect to redis at %s: %w", host, err)
	}
	return RedisClient, nil
}
