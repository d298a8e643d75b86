package config

import (
	"errors"
	"net/http"
	"time"
)

// Provider supplies signing material, token lifetimes and cookie policy.
// It is injected at construction time; nothing reads it from a global.
type Provider interface {
	SigningKey() ([]byte, error)
	SigningAlgorithm() string
	TokenIssuer() string
	TokenAudience() string

	SessionTTL(rememberMe bool) time.Duration
	RefreshTTL() time.Duration
	VerificationCodeTTL() time.Duration
	RequireVerifiedEmail() bool

	SessionCookieName() string
	RefreshCookieName() string
	CookieAttributes() CookieAttributes
}

// CookieAttributes are shared by every cookie the service writes or clears.
type CookieAttributes struct {
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

var ErrSigningKeyUnavailable = errors.New("config: signing key unavailable")

var _ Provider = AuthSettings{}

func (a AuthSettings) SigningKey() ([]byte, error) {
	if a.Secret == "" {
		return nil, ErrSigningKeyUnavailable
	}
	return []byte(a.Secret), nil
}

func (a AuthSettings) SigningAlgorithm() string {
	if a.SigningAlg == "" {
		return "HS256"
	}
	return a.SigningAlg
}

func (a AuthSettings) TokenIssuer() string   { return a.Issuer }
func (a AuthSettings) TokenAudience() string { return a.Audience }

func (a AuthSettings) SessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return orDefault(a.RememberMeTokenTTL, defaultRememberMeTTL)
	}
	return orDefault(a.SessionTokenTTL, defaultSessionTTL)
}

func (a AuthSettings) RefreshTTL() time.Duration {
	return orDefault(a.RefreshTokenTTL, defaultRefreshTTL)
}

func (a AuthSettings) VerificationCodeTTL() time.Duration {
	return orDefault(a.CodeTTL, defaultCodeTTL)
}

func (a AuthSettings) RequireVerifiedEmail() bool { return a.EnforceVerifiedEmail }

func (a AuthSettings) SessionCookieName() string {
	if a.SessionCookie == "" {
		return "session"
	}
	return a.SessionCookie
}

func (a AuthSettings) RefreshCookieName() string {
	if a.RefreshCookie == "" {
		return "refresh_token"
	}
	return a.RefreshCookie
}

func (a AuthSettings) CookieAttributes() CookieAttributes {
	return CookieAttributes{
		Domain:   a.CookieDomain,
		Path:     "/",
		Secure:   a.CookieSecure,
		SameSite: parseSameSite(a.CookieSameSite),
	}
}

func parseSameSite(v string) http.SameSite {
	switch v {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteNoneMode
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
