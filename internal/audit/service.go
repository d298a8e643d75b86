package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
// Audit is internal-only; callers treat failures as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAuth records an authentication lifecycle event for subjectUserID.
func (s *Service) LogAuth(ctx context.Context, typ EventType, subjectUserID, email, ip, message string) error {
	return s.Append(ctx, Event{
		Type:          typ,
		ActorUserID:   subjectUserID,
		SubjectUserID: subjectUserID,
		Email:         email,
		IPAddress:     ip,
		Message:       message,
	})
}

// LogAdminAction records an admin changing another account.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, subjectUserID, ip, metadata string) error {
	return s.Append(ctx, Event{
		Type:          EventAdminUserUpdated,
		ActorUserID:   actorUserID,
		ActorRole:     actorRole,
		SubjectUserID: subjectUserID,
		IPAddress:     ip,
		Message:       "account updated by admin",
		Metadata:      metadata,
	})
}
