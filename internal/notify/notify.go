// Package notify delivers verification and password-reset codes.
// Delivery is owned by an external mailer; callers treat every send as fire-and-forget.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Kind string

const (
	KindRegistrationCode  Kind = "registration_code"
	KindPasswordResetCode Kind = "password_reset_code"
)

type Notifier interface {
	SendRegistrationCode(ctx context.Context, email, code string) error
	SendPasswordResetCode(ctx context.Context, email, code string) error
}

/* ===================== LOG ===================== */

// LogNotifier writes notifications to the structured log. Codes are only
// included when RevealCodes is set (local development).
type LogNotifier struct {
	Log         *slog.Logger
	RevealCodes bool
}

func (n LogNotifier) SendRegistrationCode(ctx context.Context, email, code string) error {
	n.emit(ctx, KindRegistrationCode, email, code)
	return nil
}

func (n LogNotifier) SendPasswordResetCode(ctx context.Context, email, code string) error {
	n.emit(ctx, KindPasswordResetCode, email, code)
	return nil
}

func (n LogNotifier) emit(ctx context.Context, kind Kind, email, code string) {
	l := n.Log
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{"kind", string(kind), "email", email}
	if n.RevealCodes {
		attrs = append(attrs, "code", code)
	}
	l.InfoContext(ctx, "notification", attrs...)
}

/* ===================== REDIS STREAM ===================== */

// StreamNotifier appends notifications to a Redis stream consumed by the mailer.
type StreamNotifier struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewStreamNotifier(rdb *redis.Client, stream string) *StreamNotifier {
	return &StreamNotifier{rdb: rdb, stream: stream, maxLen: 100_000}
}

func (n *StreamNotifier) SendRegistrationCode(ctx context.Context, email, code string) error {
	return n.publish(ctx, KindRegistrationCode, email, code)
}

func (n *StreamNotifier) SendPasswordResetCode(ctx context.Context, email, code string) error {
	return n.publish(ctx, KindPasswordResetCode, email, code)
}

func (n *StreamNotifier) publish(ctx context.Context, kind Kind, email, code string) error {
	err := n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":       string(kind),
			"email":      email,
			"code":       code,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("notify: xadd %s: %w", n.stream, err)
	}
	return nil
}

/* ===================== RECORDER ===================== */

type Message struct {
	Kind  Kind
	Email string
	Code  string
}

// Recorder keeps every notification in memory; Err makes every send fail.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) SendRegistrationCode(ctx context.Context, email, code string) error {
	return r.record(KindRegistrationCode, email, code)
}

func (r *Recorder) SendPasswordResetCode(ctx context.Context, email, code string) error {
	return r.record(KindPasswordResetCode, email, code)
}

func (r *Recorder) record(kind Kind, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, Message{Kind: kind, Email: email, Code: code})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Last returns the most recent message of kind for email.
func (r *Recorder) Last(kind Kind, email string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Kind == kind && r.msgs[i].Email == email {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}
