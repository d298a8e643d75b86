package authn

import (
	"context"
	"errors"

	"identity-service/internal/audit"
	"identity-service/internal/otp"
	"identity-service/internal/users"
	"identity-service/pkg/logger"
)

const msgInvalidCode = "invalid or expired code"

/* ===================== EMAIL VERIFICATION ===================== */

// VerifyEmail consumes the registration code sent to email and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (users.Profile, error) {
	p, err := s.verifyEmail(ctx, email, code)
	s.observe("verify_email", err)
	return p, err
}

func (s *Service) verifyEmail(ctx context.Context, email, code string) (users.Profile, error) {
	email = users.NormalizeEmail(email)
	if email == "" || code == "" {
		return users.Profile{}, invalidInput("email and code are required")
	}

	acct, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return users.Profile{}, unauthorized(msgInvalidCode, nil)
	}
	if err != nil {
		return users.Profile{}, s.fail(ctx, "verify email: lookup", err)
	}
	// A verified account has no outstanding code; answer exactly like an unknown email.
	if acct.EmailVerified {
		return users.Profile{}, unauthorized(msgInvalidCode, nil)
	}

	ok, err := s.codes.Consume(context.WithoutCancel(ctx), otp.PurposeRegistration, email, otp.Digest(code))
	if err != nil {
		return users.Profile{}, s.fail(ctx, "verify email: consume", err)
	}
	if !ok {
		return users.Profile{}, unauthorized(msgInvalidCode, nil)
	}

	verified := true
	updated, err := s.users.Update(context.WithoutCancel(ctx), acct.ID, users.Patch{EmailVerified: &verified})
	if err != nil {
		return users.Profile{}, s.fail(ctx, "verify email: update", err)
	}
	s.record(ctx, audit.EventEmailVerified, acct.ID, email, "")
	return updated.Profile(), nil
}

// ResendVerificationCode issues a new registration code for an unverified account.
// It reports success for unknown or already verified addresses.
func (s *Service) ResendVerificationCode(ctx context.Context, email string) error {
	err := s.resendVerificationCode(ctx, email)
	s.observe("resend_verification", err)
	return err
}

func (s *Service) resendVerificationCode(ctx context.Context, email string) error {
	email = users.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	acct, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.fail(ctx, "resend verification: lookup", err)
	}
	if acct.EmailVerified || !acct.Active() {
		return nil
	}
	_ = s.sendCode(ctx, otp.PurposeRegistration, email)
	return nil
}

/* ===================== PASSWORD RESET ===================== */

// RequestPasswordReset sends a reset code when the account exists. The result
// is identical either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	err := s.requestPasswordReset(ctx, email)
	s.observe("password_forgot", err)
	return err
}

func (s *Service) requestPasswordReset(ctx context.Context, email string) error {
	email = users.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	acct, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		logger.From(ctx).DebugContext(ctx, "password reset for unknown email")
		return nil
	}
	if err != nil {
		return s.fail(ctx, "password forgot: lookup", err)
	}
	if !acct.Active() {
		return nil
	}
	_ = s.sendCode(ctx, otp.PurposePasswordReset, email)
	return nil
}

// ResetPassword consumes a reset code, sets the new password and signs the
// account out everywhere.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	err := s.resetPassword(ctx, email, code, newPassword)
	s.observe("password_reset", err)
	return err
}

func (s *Service) resetPassword(ctx context.Context, email, code, newPassword string) error {
	email = users.NormalizeEmail(email)
	if email == "" || code == "" {
		return invalidInput("email and code are required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	acct, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return unauthorized(msgInvalidCode, nil)
	}
	if err != nil {
		return s.fail(ctx, "password reset: lookup", err)
	}

	ok, err := s.codes.Consume(context.WithoutCancel(ctx), otp.PurposePasswordReset, email, otp.Digest(code))
	if err != nil {
		return s.fail(ctx, "password reset: consume", err)
	}
	if !ok {
		return unauthorized(msgInvalidCode, nil)
	}

	if err := s.setPassword(ctx, acct.ID, newPassword); err != nil {
		return err
	}
	s.record(ctx, audit.EventPasswordReset, acct.ID, email, "")
	return nil
}

// ChangePassword replaces the password of a signed-in account after checking
// the current one. Every other session is revoked and a fresh one is returned.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) (Session, error) {
	sess, err := s.changePassword(ctx, accountID, current, next)
	s.observe("password_change", err)
	return sess, err
}

func (s *Service) changePassword(ctx context.Context, accountID, current, next string) (Session, error) {
	if accountID == "" {
		return Session{}, unauthorized(msgInvalidSession, nil)
	}
	if current == "" {
		return Session{}, invalidInput("current password is required")
	}
	if err := validatePassword(next); err != nil {
		return Session{}, err
	}

	acct, err := s.users.FindByID(ctx, accountID)
	if errors.Is(err, users.ErrNotFound) {
		return Session{}, unauthorized(msgInvalidSession, nil)
	}
	if err != nil {
		return Session{}, s.fail(ctx, "password change: lookup", err)
	}
	if ok, _ := s.hasher.Verify(current, acct.PasswordHash); !ok {
		return Session{}, unauthorized(msgInvalidCredentials, nil)
	}

	if err := s.setPassword(ctx, acct.ID, next); err != nil {
		return Session{}, err
	}
	s.record(ctx, audit.EventPasswordChanged, acct.ID, acct.Email, "")

	return s.startSession(ctx, acct, acct.RememberMe)
}

// setPassword stores a new hash and drops the refresh token.
func (s *Service) setPassword(ctx context.Context, accountID, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return s.fail(ctx, "password: hash", err)
	}
	wctx := context.WithoutCancel(ctx)
	if _, err := s.users.Update(wctx, accountID, users.Patch{PasswordHash: &hash}); err != nil {
		return s.fail(ctx, "password: update", err)
	}
	if err := s.users.SetRefreshTokenDigest(wctx, accountID, nil); err != nil {
		return s.fail(ctx, "password: revoke refresh", err)
	}
	return nil
}
