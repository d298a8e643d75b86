package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the client shared by login throttling, one-time
// codes and the notification stream.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	PoolSize    int
	DialTimeout time.Duration
	IOTimeout   time.Duration
	PingTimeout time.Duration
}

// OpenRedis builds a client and fails fast if the server does not answer PING.
func OpenRedis(ctx context.Context, o RedisOptions) (*redis.Client, error) {
	if o.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	io := pick(o.IOTimeout, 2*time.Second)
	rdb := redis.NewClient(&redis.Options{
		Addr:            o.Addr,
		Password:        o.Password,
		DB:              o.DB,
		PoolSize:        pick(o.PoolSize, 20),
		DialTimeout:     pick(o.DialTimeout, 3*time.Second),
		ReadTimeout:     io,
		WriteTimeout:    io,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if err := PingRedis(ctx, rdb, pick(o.PingTimeout, 2*time.Second)); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func PingRedis(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	if rdb == nil {
		return errors.New("redis: nil client")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
