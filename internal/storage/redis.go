package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "resolution-leaderboard:"

// RedisStorage keeps ledger records as plain Redis strings
type RedisStorage struct {
	cli *redis.Client
}

// Ensure RedisStorage implements StorageInterface
var _ StorageInterface = (*RedisStorage)(nil)

// NewRedisStorage connects to the Redis server and pings it to ensure the
// connection is working
func NewRedisStorage(ctx context.Context, addr string) (*RedisStorage, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStorage{cli: cli}, nil
}

// Close releases the connection pool
func (r *RedisStorage) Close() error {
	return r.cli.Close()
}

func (r *RedisStorage) Store(ctx context.Context, key string, data []byte) error {
	if err := r.cli.Set(ctx, redisKeyPrefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	logrus.WithField("key", key).Debug("Stored ledger record in redis")
	return nil
}

// Retrieve returns the stored value. A missing key yields ErrNotFound.
func (r *RedisStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	data, err := r.cli.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}
