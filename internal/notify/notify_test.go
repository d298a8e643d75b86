package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamNotifier_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	n := NewStreamNotifier(rdb, "notify:auth")
	ctx := context.Background()
	require.NoError(t, n.SendRegistrationCode(ctx, "alice@example.com", "123456"))
	require.NoError(t, n.SendPasswordResetCode(ctx, "alice@example.com", "654321"))

	msgs, err := rdb.XRange(ctx, "notify:auth", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "registration_code", msgs[0].Values["kind"])
	assert.Equal(t, "123456", msgs[0].Values["code"])
	assert.Equal(t, "password_reset_code", msgs[1].Values["kind"])
}

func TestLogNotifier_HidesCodesByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, LogNotifier{Log: l}.SendRegistrationCode(context.Background(), "a@b.c", "987654"))
	assert.NotContains(t, buf.String(), "987654")

	buf.Reset()
	require.NoError(t, LogNotifier{Log: l, RevealCodes: true}.SendRegistrationCode(context.Background(), "a@b.c", "987654"))
	assert.Contains(t, buf.String(), "987654")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.SendPasswordResetCode(context.Background(), "a@b.c", "1"))
	m, ok := r.Last(KindPasswordResetCode, "a@b.c")
	require.True(t, ok)
	assert.Equal(t, "1", m.Code)

	r.Err = errors.New("smtp down")
	assert.Error(t, r.SendRegistrationCode(context.Background(), "a@b.c", "2"))
	assert.Len(t, r.Messages(), 1)
}
