package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Secrets (passwords, tokens, codes) never appear in Message or Metadata.
// - Capture is best-effort; auth flows never block on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if any).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// SubjectUserID is the account the event is about.
	SubjectUserID string `json:"subject_user_id,omitempty" db:"subject_user_id"`
	// Email is the normalized address that was presented, even if no account matched.
	Email string `json:"email,omitempty" db:"email"`

	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventRegistered       EventType = "auth.registered"
	EventEmailVerified    EventType = "auth.email.verified"
	EventLoginSucceeded   EventType = "auth.login.succeeded"
	EventLoginFailed      EventType = "auth.login.failed"
	EventLogout           EventType = "auth.logout"
	EventRefreshReuse     EventType = "auth.refresh.reuse_detected"
	EventPasswordReset    EventType = "auth.password.reset"
	EventPasswordChanged  EventType = "auth.password.changed"
	EventAdminUserUpdated EventType = "admin.user.updated"
	EventNotifyFailed     EventType = "auth.notification.failed"
)
