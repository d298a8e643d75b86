package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"identity-service/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This store assumes the users table from internal/migrations.
// Email is stored normalized and carries a UNIQUE constraint (users_email_key),
// which is what makes concurrent registration safe.

const uniqueViolation = "23505"

const accountColumns = `id, email, display_name, password_hash, role, status, email_verified, remember_me,
profile_image, team, refresh_token_digest, refresh_expires_at, refresh_rotation, previous_refresh_digest,
created_at, updated_at`

type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	clock   func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps db. timeout bounds every statement; zero means 5s.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout, clock: time.Now}
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := `SELECT ` + accountColumns + ` FROM users WHERE email = $1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, NormalizeEmail(email)))
	return a, classify(err)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Account, error) {
	if !validID(id) {
		return Account{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := `SELECT ` + accountColumns + ` FROM users WHERE id = $1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, id))
	return a, classify(err)
}

func (s *PostgresStore) FindByRefreshDigest(ctx context.Context, digest string) (Account, error) {
	if digest == "" {
		return Account{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := `SELECT ` + accountColumns + `
FROM users
WHERE refresh_token_digest = $1 OR previous_refresh_digest = $1
LIMIT 1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, digest))
	return a, classify(err)
}

func (s *PostgresStore) Create(ctx context.Context, in NewAccount) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.clock().UTC()
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	const q = `
INSERT INTO users (id, email, display_name, password_hash, role, status, email_verified, remember_me,
                   profile_image, team, refresh_rotation, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, $7, $8, 0, $9, $9)
RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		NormalizeEmail(in.Email),
		in.DisplayName,
		in.PasswordHash,
		string(role),
		string(StatusActive),
		in.ProfileImage,
		in.Team,
		now,
	))
	return a, classify(err)
}

func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) (Account, error) {
	if !validID(id) {
		return Account{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const q = `
UPDATE users SET
    display_name   = COALESCE($2, display_name),
    password_hash  = COALESCE($3, password_hash),
    role           = COALESCE($4, role),
    status         = COALESCE($5, status),
    email_verified = COALESCE($6, email_verified),
    profile_image  = COALESCE($7, profile_image),
    team           = COALESCE($8, team),
    updated_at     = $9
WHERE id = $1
RETURNING ` + accountColumns

	var role, status *string
	if p.Role != nil {
		v := string(*p.Role)
		role = &v
	}
	if p.Status != nil {
		v := string(*p.Status)
		status = &v
	}

	a, err := scanAccount(s.db.QueryRowContext(ctx, q,
		id,
		nullString(p.DisplayName),
		nullString(p.PasswordHash),
		nullString(role),
		nullString(status),
		nullBool(p.EmailVerified),
		nullString(p.ProfileImage),
		nullString(p.Team),
		s.clock().UTC(),
	))
	return a, classify(err)
}

func (s *PostgresStore) SetRefreshTokenDigest(ctx context.Context, id string, grant *RefreshGrant) error {
	if !validID(id) {
		return ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		digest     sql.NullString
		expiresAt  sql.NullTime
		rememberMe sql.NullBool
	)
	if grant != nil {
		digest = sql.NullString{String: grant.Digest, Valid: true}
		expiresAt = sql.NullTime{Time: grant.ExpiresAt.UTC(), Valid: true}
		rememberMe = sql.NullBool{Bool: grant.RememberMe, Valid: true}
	}

	const q = `
UPDATE users SET
    refresh_token_digest    = $2,
    refresh_expires_at      = $3,
    refresh_rotation        = 0,
    previous_refresh_digest = NULL,
    remember_me             = COALESCE($4, remember_me),
    updated_at              = $5
WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q, id, digest, expiresAt, rememberMe, s.clock().UTC())
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateRefreshToken locks the account row so concurrent refreshes serialize;
// the loser observes the new digest and gets ErrStaleToken.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, id, presentedDigest string, next RefreshGrant) (Account, error) {
	if !validID(id) {
		return Account{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out Account
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(tx *sql.Tx) error {
		cur, err := lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Refresh == nil || cur.Refresh.Digest != presentedDigest {
			return ErrStaleToken
		}

		const q = `
UPDATE users SET
    refresh_token_digest    = $2,
    refresh_expires_at      = $3,
    refresh_rotation        = refresh_rotation + 1,
    previous_refresh_digest = $4,
    remember_me             = $5,
    updated_at              = $6
WHERE id = $1
RETURNING ` + accountColumns

		out, err = scanAccount(tx.QueryRowContext(ctx, q,
			id,
			next.Digest,
			next.ExpiresAt.UTC(),
			presentedDigest,
			next.RememberMe,
			s.clock().UTC(),
		))
		return err
	})
	if errors.Is(err, ErrStaleToken) {
		return Account{}, ErrStaleToken
	}
	return out, classify(err)
}

func lockAccount(ctx context.Context, tx *sql.Tx, id string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanAccount(tx.QueryRowContext(ctx, q, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		a         Account
		digest    sql.NullString
		expiresAt sql.NullTime
		rotation  int
		previous  sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.DisplayName,
		&a.PasswordHash,
		&a.Role,
		&a.Status,
		&a.EmailVerified,
		&a.RememberMe,
		&a.ProfileImage,
		&a.Team,
		&digest,
		&expiresAt,
		&rotation,
		&previous,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Account{}, err
	}
	if digest.Valid && digest.String != "" {
		a.Refresh = &RefreshToken{Digest: digest.String, ExpiresAt: expiresAt.Time, Rotation: rotation}
	}
	a.PreviousRefreshDigest = previous.String
	return a, nil
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStaleToken) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return fmt.Errorf("users: db error: %w", err)
}

// validID reports whether id can name a row; users.id is a uuid column and
// Postgres rejects anything else with 22P02.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}
