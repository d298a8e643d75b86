package config

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func validConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "identity"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthSettings{Secret: "secret", CookieSecure: true},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig("production")
	c.Auth.Secret = strings.Repeat("s", 32)
	c.Auth.Issuer = "identity"
	c.Auth.Audience = "web"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.SigningAlg != "HS256" {
		t.Fatalf("expected HS256 default, got %q", c.Auth.SigningAlg)
	}
	if c.Auth.SessionTokenTTL != time.Hour || c.Auth.RememberMeTokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected ttl defaults: %+v", c.Auth)
	}
	if c.Auth.SessionCookie != "session" || c.Auth.RefreshCookie != "refresh_token" {
		t.Fatalf("unexpected cookie defaults: %q %q", c.Auth.SessionCookie, c.Auth.RefreshCookie)
	}
	if c.Notify.Driver != "log" {
		t.Fatalf("expected log notifier default, got %q", c.Notify.Driver)
	}
}

func TestValidate_SameSiteNoneRequiresSecure(t *testing.T) {
	c := validConfig("local")
	c.Auth.CookieSecure = false
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_COOKIE_SECURE") {
		t.Fatalf("expected secure cookie error, got %v", err)
	}

	c = validConfig("local")
	c.Auth.CookieSecure = false
	c.Auth.CookieSameSite = "lax"
	if err := c.Validate(); err != nil {
		t.Fatalf("lax without secure should be allowed, got %v", err)
	}
}

func TestValidate_RejectsUnknownSigningAlg(t *testing.T) {
	c := validConfig("local")
	c.Auth.SigningAlg = "RS256"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected signing alg error")
	}
}

func TestAuthSettings_Provider(t *testing.T) {
	a := AuthSettings{
		SessionTokenTTL:    30 * time.Minute,
		RememberMeTokenTTL: 14 * 24 * time.Hour,
		CookieSecure:       true,
		CookieSameSite:     "none",
	}

	if got := a.SessionTTL(false); got != 30*time.Minute {
		t.Fatalf("short ttl: got %v", got)
	}
	if got := a.SessionTTL(true); got != 14*24*time.Hour {
		t.Fatalf("remember-me ttl: got %v", got)
	}
	if _, err := a.SigningKey(); !errors.Is(err, ErrSigningKeyUnavailable) {
		t.Fatalf("expected ErrSigningKeyUnavailable, got %v", err)
	}

	attrs := a.CookieAttributes()
	if !attrs.Secure || attrs.SameSite != http.SameSiteNoneMode || attrs.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", attrs)
	}
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":     "local",
		"APP_PORT":    "8080",
		"DB_HOST":     "localhost",
		"DB_PORT":     "5432",
		"DB_USER":     "postgres",
		"DB_PASSWORD": "x",
		"DB_NAME":     "identity",
		"REDIS_HOST":  "localhost",
		"REDIS_PORT":  "6379",
		"AUTH_SECRET": "secret",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTH_SESSION_TTL", "30m")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Redis.Password != "pw" || c.Redis.DB != 3 {
		t.Fatalf("unexpected redis config: %+v", c.Redis)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
	if c.Auth.SessionTokenTTL != 30*time.Minute {
		t.Fatalf("expected 30m session ttl, got %v", c.Auth.SessionTokenTTL)
	}
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REDIS_DB", "zero")
	t.Setenv("AUTH_LOGIN_WINDOW", "soon")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, want := range []string{"REDIS_DB", "AUTH_LOGIN_WINDOW"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}
