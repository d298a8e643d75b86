// Package authn is the credential-to-session state machine: registration,
// login, logout and refresh-token rotation, plus the email verification and
// password recovery flows built on the same primitives.
//
// Every operation returns its payload next to a nil error, or an *Error whose
// Kind tags the failure. Transport concerns (cookies, status codes) live in
// internal/httpapi.
package authn

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"sync"
	"time"

	"identity-service/internal/audit"
	"identity-service/internal/auth"
	"identity-service/internal/clientip"
	"identity-service/internal/config"
	"identity-service/internal/metrics"
	"identity-service/internal/notify"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	"identity-service/internal/ratelimit"
	"identity-service/internal/users"
	"identity-service/pkg/logger"
)

// Deps are the collaborators of Service. Limiter, Audit and Metrics are optional.
type Deps struct {
	Config   config.Provider
	Users    users.Store
	Hasher   password.Hasher
	Issuer   *auth.Issuer
	Codes    otp.Store
	Notifier notify.Notifier

	Limiter ratelimit.Limiter
	Audit   *audit.Service
	Metrics *metrics.Metrics
}

type Service struct {
	cfg      config.Provider
	users    users.Store
	hasher   password.Hasher
	issuer   *auth.Issuer
	codes    otp.Store
	notifier notify.Notifier

	limiter ratelimit.Limiter
	audit   *audit.Service
	metrics *metrics.Metrics

	dummyOnce sync.Once
	dummyHash string
}

func NewService(d Deps) (*Service, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("authn: config provider is required")
	case d.Users == nil:
		return nil, errors.New("authn: user store is required")
	case d.Hasher == nil:
		return nil, errors.New("authn: password hasher is required")
	case d.Issuer == nil:
		return nil, errors.New("authn: token issuer is required")
	case d.Codes == nil:
		return nil, errors.New("authn: code store is required")
	case d.Notifier == nil:
		return nil, errors.New("authn: notifier is required")
	}
	return &Service{
		cfg:      d.Config,
		users:    d.Users,
		hasher:   d.Hasher,
		issuer:   d.Issuer,
		codes:    d.Codes,
		notifier: d.Notifier,
		limiter:  d.Limiter,
		audit:    d.Audit,
		metrics:  d.Metrics,
	}, nil
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Email        string
	Password     string
	DisplayName  string
	ProfileImage string
	Team         string
}

// RegisterResult never carries a token: the account must log in (and, when
// enforced, verify its email) first.
type RegisterResult struct {
	Profile users.Profile
	// Warning is set when the verification code could not be delivered.
	// The account is created regardless. It wraps ErrNotifyFailed.
	Warning error
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// Session is the outcome of login, refresh and password change.
// RefreshToken is the raw value and is handed out exactly once.
type Session struct {
	Profile          users.Profile
	Claims           auth.Claims
	Token            string
	RefreshToken     string
	RefreshExpiresAt time.Time
	RememberMe       bool
}

/* ===================== REGISTER ===================== */

func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	res, err := s.register(ctx, in)
	s.observe("register", err)
	return res, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	email := users.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return RegisterResult{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return RegisterResult{}, err
	}
	if err := validateDisplayName(in.DisplayName); err != nil {
		return RegisterResult{}, err
	}

	// Fast path only. The unique constraint behind Create is what decides races.
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return RegisterResult{}, wrap(users.ErrConflict)
	} else if !errors.Is(err, users.ErrNotFound) {
		return RegisterResult{}, s.fail(ctx, "register: lookup", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, s.fail(ctx, "register: hash", err)
	}

	acct, err := s.users.Create(context.WithoutCancel(ctx), users.NewAccount{
		Email:        email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Role:         users.RoleUser,
		ProfileImage: in.ProfileImage,
		Team:         in.Team,
	})
	if err != nil {
		return RegisterResult{}, s.fail(ctx, "register: create", err)
	}
	s.record(ctx, audit.EventRegistered, acct.ID, acct.Email, "")

	res := RegisterResult{Profile: acct.Profile()}
	if err := s.sendCode(ctx, otp.PurposeRegistration, acct.Email); err != nil {
		res.Warning = err
	}
	return res, nil
}

/* ===================== LOGIN ===================== */

func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	sess, err := s.login(ctx, in)
	s.observe("login", err)
	return sess, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (Session, error) {
	email := users.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return Session{}, invalidInput("email and password are required")
	}

	throttleKey := "login:" + email + ":" + clientip.FromContext(ctx)
	if !s.allow(ctx, throttleKey) {
		s.record(ctx, audit.EventLoginFailed, "", email, "throttled")
		return Session{}, newError(KindRateLimited, "too many login attempts, try again later", nil)
	}

	acct, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		s.burnHash(in.Password)
		s.record(ctx, audit.EventLoginFailed, "", email, "unknown email")
		return Session{}, unauthorized(msgInvalidCredentials, nil)
	}
	if err != nil {
		return Session{}, s.fail(ctx, "login: lookup", err)
	}

	ok, err := s.hasher.Verify(in.Password, acct.PasswordHash)
	if err != nil {
		logger.From(ctx).ErrorContext(ctx, "stored password hash unreadable", "user_id", acct.ID, "err", err)
	}
	if err != nil || !ok {
		s.record(ctx, audit.EventLoginFailed, acct.ID, email, "password mismatch")
		return Session{}, unauthorized(msgInvalidCredentials, nil)
	}
	if !acct.Active() {
		s.record(ctx, audit.EventLoginFailed, acct.ID, email, "account disabled")
		return Session{}, unauthorized(msgInvalidCredentials, nil)
	}
	if s.cfg.RequireVerifiedEmail() && !acct.EmailVerified {
		s.record(ctx, audit.EventLoginFailed, acct.ID, email, "email not verified")
		return Session{}, unauthorized("email address is not verified", nil)
	}

	s.upgradeHash(ctx, acct, in.Password)

	sess, err := s.startSession(ctx, acct, in.RememberMe)
	if err != nil {
		return Session{}, err
	}
	s.resetThrottle(ctx, throttleKey)
	s.record(ctx, audit.EventLoginSucceeded, acct.ID, email, "")
	return sess, nil
}

// startSession signs a session token, mints a refresh token and persists its
// digest, replacing whatever refresh token the account had before.
func (s *Service) startSession(ctx context.Context, acct users.Account, rememberMe bool) (Session, error) {
	claims, token, err := s.issuer.IssueSessionToken(acct, rememberMe)
	if err != nil {
		return Session{}, s.fail(ctx, "session: sign", err)
	}
	rt, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return Session{}, s.fail(ctx, "session: refresh token", err)
	}
	grant := rt.Grant(rememberMe)
	if err := s.users.SetRefreshTokenDigest(context.WithoutCancel(ctx), acct.ID, &grant); err != nil {
		return Session{}, s.fail(ctx, "session: persist refresh digest", err)
	}
	acct.RememberMe = rememberMe
	return Session{
		Profile:          acct.Profile(),
		Claims:           claims,
		Token:            token,
		RefreshToken:     rt.Value,
		RefreshExpiresAt: rt.ExpiresAt,
		RememberMe:       rememberMe,
	}, nil
}

/* ===================== LOGOUT ===================== */

// Logout forgets the account's refresh token. Logging out an account that no
// longer exists is not an error.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	err := s.logout(ctx, accountID)
	s.observe("logout", err)
	return err
}

func (s *Service) logout(ctx context.Context, accountID string) error {
	if accountID == "" {
		return invalidInput("account id is required")
	}
	err := s.users.SetRefreshTokenDigest(context.WithoutCancel(ctx), accountID, nil)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return s.fail(ctx, "logout", err)
	}
	s.record(ctx, audit.EventLogout, accountID, "", "")
	return nil
}

// LogoutRefreshToken logs out the account whose current refresh token was
// presented. Unknown and already rotated tokens are ignored.
func (s *Service) LogoutRefreshToken(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}
	digest, err := s.issuer.DigestRefreshToken(presented)
	if err != nil {
		return s.fail(ctx, "logout: digest", err)
	}
	acct, err := s.users.FindByRefreshDigest(ctx, digest)
	if errors.Is(err, users.ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.fail(ctx, "logout: lookup", err)
	}
	// Only the live token signs the account out; a rotated one is ignored.
	if acct.Refresh == nil || !hmac.Equal([]byte(acct.Refresh.Digest), []byte(digest)) {
		return nil
	}
	return s.Logout(ctx, acct.ID)
}

/* ===================== REFRESH ===================== */

// Refresh exchanges a refresh token for a new session and a new refresh token.
// Unknown, expired, superseded and reused tokens all fail with UNAUTHORIZED.
// Presenting an already rotated token also revokes the account's current one.
func (s *Service) Refresh(ctx context.Context, presented string) (Session, error) {
	sess, err := s.refresh(ctx, presented)
	s.observe("refresh", err)
	return sess, err
}

func (s *Service) refresh(ctx context.Context, presented string) (Session, error) {
	if presented == "" {
		return Session{}, unauthorized(msgInvalidSession, auth.ErrInvalidToken)
	}

	// The rotation commits even if the caller goes away mid-request.
	rot, err := s.issuer.RotateRefreshToken(context.WithoutCancel(ctx), s.users, presented)
	var reuse *auth.ReuseError
	switch {
	case errors.As(err, &reuse):
		s.revoke(ctx, reuse.AccountID)
		return Session{}, unauthorized(msgInvalidSession, err)
	case errors.Is(err, auth.ErrInvalidToken):
		return Session{}, unauthorized(msgInvalidSession, err)
	case err != nil:
		return Session{}, s.fail(ctx, "refresh: rotate", err)
	}

	return Session{
		Profile:          rot.Account.Profile(),
		Claims:           rot.Claims,
		Token:            rot.Session,
		RefreshToken:     rot.Refresh.Value,
		RefreshExpiresAt: rot.Refresh.ExpiresAt,
		RememberMe:       rot.Account.RememberMe,
	}, nil
}

func (s *Service) revoke(ctx context.Context, accountID string) {
	log := logger.From(ctx)
	log.WarnContext(ctx, "refresh token reuse detected", "user_id", accountID)
	s.metrics.RefreshReuse()

	if err := s.users.SetRefreshTokenDigest(context.WithoutCancel(ctx), accountID, nil); err != nil {
		log.ErrorContext(ctx, "revoke refresh token failed", "user_id", accountID, "err", err)
	}
	s.record(ctx, audit.EventRefreshReuse, accountID, "", "")
}

/* ===================== HELPERS ===================== */

// sendCode stores a fresh one-time code and hands it to the notifier.
// Failures are returned wrapped in ErrNotifyFailed and never undo the caller's work.
func (s *Service) sendCode(ctx context.Context, purpose otp.Purpose, email string) error {
	code, err := otp.NewCode()
	if err == nil {
		err = s.codes.Put(context.WithoutCancel(ctx), purpose, email, otp.Digest(code), s.cfg.VerificationCodeTTL())
	}
	if err == nil {
		switch purpose {
		case otp.PurposePasswordReset:
			err = s.notifier.SendPasswordResetCode(ctx, email, code)
		default:
			err = s.notifier.SendRegistrationCode(ctx, email, code)
		}
	}
	if err != nil {
		logger.From(ctx).WarnContext(ctx, "notification failed", "purpose", string(purpose), "email", email, "err", err)
		s.record(ctx, audit.EventNotifyFailed, "", email, string(purpose))
		return fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}
	return nil
}

// burnHash spends the same CPU as a real verification so unknown emails
// are not distinguishable by latency.
func (s *Service) burnHash(plaintext string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("correct horse battery staple")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(plaintext, s.dummyHash)
	}
}

type rehasher interface {
	NeedsRehash(digest string) bool
}

func (s *Service) upgradeHash(ctx context.Context, acct users.Account, plaintext string) {
	r, ok := s.hasher.(rehasher)
	if !ok || !r.NeedsRehash(acct.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(plaintext)
	if err == nil {
		_, err = s.users.Update(context.WithoutCancel(ctx), acct.ID, users.Patch{PasswordHash: &hash})
	}
	if err != nil {
		logger.From(ctx).WarnContext(ctx, "password rehash failed", "user_id", acct.ID, "err", err)
	}
}

// allow fails open when the limiter backend is unavailable.
func (s *Service) allow(ctx context.Context, key string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		logger.From(ctx).WarnContext(ctx, "login throttle unavailable", "err", err)
		return true
	}
	return ok
}

func (s *Service) resetThrottle(ctx context.Context, key string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		logger.From(ctx).WarnContext(ctx, "login throttle reset failed", "err", err)
	}
}

// record appends an audit event. Audit is best-effort.
func (s *Service) record(ctx context.Context, typ audit.EventType, subjectUserID, email, message string) {
	if s.audit == nil {
		return
	}
	ip := clientip.FromContext(ctx)
	if err := s.audit.LogAuth(context.WithoutCancel(ctx), typ, subjectUserID, email, ip, message); err != nil {
		logger.From(ctx).WarnContext(ctx, "audit append failed", "type", string(typ), "err", err)
	}
}

// fail converts err into an *Error, logging infrastructure failures with full context.
func (s *Service) fail(ctx context.Context, op string, err error) *Error {
	e := wrap(err)
	switch e.Kind {
	case KindStorage, KindSigning, KindTimeout:
		logger.From(ctx).ErrorContext(ctx, op, "kind", string(e.Kind), "err", err)
	}
	return e
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	s.metrics.AuthOutcome(op, result)
}
