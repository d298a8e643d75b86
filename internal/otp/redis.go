package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var consumeScript = redis.NewScript(`
-- KEYS[1] = code hash {digest, attempts}
-- ARGV[1] = presented digest
-- ARGV[2] = max attempts
--
-- Returns:
--  1 if the digest matched (code deleted)
--  0 otherwise
local stored = redis.call('HGET', KEYS[1], 'digest')
if not stored then
  return 0
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, purpose Purpose, email, digest string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("otp: ttl must be > 0")
	}
	k := key(purpose, email)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, "digest", digest, "attempts", 0)
		p.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("otp: put: %w", err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, purpose Purpose, email, digest string) (bool, error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{key(purpose, email)}, digest, MaxAttempts).Int()
	if err != nil {
		return false, fmt.Errorf("otp: consume: %w", err)
	}
	return res == 1, nil
}
