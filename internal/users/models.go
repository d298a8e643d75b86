package users

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

func (s Status) Valid() bool { return s == StatusActive || s == StatusDisabled }

// Account is the persisted user record.
// PasswordHash and refresh digests never leave the service; use Profile for output.
type Account struct {
	ID            string `db:"id"`
	Email         string `db:"email"`
	DisplayName   string `db:"display_name"`
	PasswordHash  string `json:"-" db:"password_hash"`
	Role          Role   `db:"role"`
	Status        Status `db:"status"`
	EmailVerified bool   `db:"email_verified"`
	RememberMe    bool   `db:"remember_me"`
	ProfileImage  string `db:"profile_image"`
	Team          string `db:"team"`

	Refresh               *RefreshToken `json:"-"`
	PreviousRefreshDigest string        `json:"-" db:"previous_refresh_digest"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// RefreshToken is the single trusted refresh credential of an account, stored as a digest.
type RefreshToken struct {
	Digest    string    `db:"refresh_token_digest"`
	ExpiresAt time.Time `db:"refresh_expires_at"`
	Rotation  int       `db:"refresh_rotation"`
}

func (a Account) Active() bool { return a.Status == StatusActive }

// Profile is the public view of an account.
type Profile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"name"`
	Role          Role      `json:"role"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"emailVerified"`
	ProfileImage  string    `json:"profileImage,omitempty"`
	Team          string    `json:"team,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (a Account) Profile() Profile {
	return Profile{
		ID:            a.ID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		Role:          a.Role,
		Active:        a.Active(),
		EmailVerified: a.EmailVerified,
		ProfileImage:  a.ProfileImage,
		Team:          a.Team,
		CreatedAt:     a.CreatedAt,
	}
}

// NewAccount is the input to Store.Create.
type NewAccount struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	ProfileImage string
	Team         string
}

// Patch updates only the non-nil fields.
type Patch struct {
	DisplayName   *string
	PasswordHash  *string
	Role          *Role
	Status        *Status
	EmailVerified *bool
	ProfileImage  *string
	Team          *string
}

func (p Patch) Empty() bool {
	return p.DisplayName == nil && p.PasswordHash == nil && p.Role == nil && p.Status == nil &&
		p.EmailVerified == nil && p.ProfileImage == nil && p.Team == nil
}

// RefreshGrant is what gets persisted when a refresh token is issued or rotated.
type RefreshGrant struct {
	Digest     string
	ExpiresAt  time.Time
	RememberMe bool
}

// NormalizeEmail is the canonical form used for uniqueness and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
