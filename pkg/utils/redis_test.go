package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	assert.NoError(t, PingRedis(context.Background(), rdb, time.Second))

	mr.Close()
	assert.Error(t, PingRedis(context.Background(), rdb, time.Second))
}

func TestOpenRedisWithPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := OpenRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Password: "wrong"})
	assert.Error(t, err)

	rdb, err := OpenRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Password: "s3cret"})
	require.NoError(t, err)
	_ = rdb.Close()
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisOptions{})
	assert.Error(t, err)
	assert.Error(t, PingRedis(context.Background(), nil, time.Second))
}
