package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthSettings
	Notify NotifyConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthSettings carries everything the token, cookie and auth layers need.
// It implements Provider.
type AuthSettings struct {
	Secret     string
	SigningAlg string
	Issuer     string
	Audience   string

	SessionTokenTTL    time.Duration
	RememberMeTokenTTL time.Duration
	RefreshTokenTTL    time.Duration

	SessionCookie  string
	RefreshCookie  string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string

	EnforceVerifiedEmail bool
	LoginMaxAttempts     int
	LoginWindow          time.Duration
	CodeTTL              time.Duration
}

type NotifyConfig struct {
	// Driver is "log" or "redis".
	Driver string
	Stream string
}

const (
	defaultSessionTTL    = time.Hour
	defaultRememberMeTTL = 30 * 24 * time.Hour
	defaultRefreshTTL    = 30 * 24 * time.Hour
	defaultLoginWindow   = 15 * time.Minute
	defaultCodeTTL       = 15 * time.Minute
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = collect(parseErrs)(mustInt("APP_PORT"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = collect(parseErrs)(mustInt("DB_PORT"))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = collect(parseErrs)(mustInt("REDIS_PORT"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = collect(parseErrs)(optionalInt("REDIS_DB", 0))

	c.Auth.Secret = os.Getenv("AUTH_SECRET")
	c.Auth.SigningAlg = strings.ToUpper(strings.TrimSpace(os.Getenv("AUTH_SIGNING_ALG")))
	c.Auth.Issuer = strings.TrimSpace(os.Getenv("AUTH_ISSUER"))
	c.Auth.Audience = strings.TrimSpace(os.Getenv("AUTH_AUDIENCE"))

	// Durations are optional; defaults are applied in Validate().
	var err error
	if c.Auth.SessionTokenTTL, err = optionalDuration("AUTH_SESSION_TTL"); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.Auth.RememberMeTokenTTL, err = optionalDuration("AUTH_REMEMBER_ME_TTL"); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.Auth.RefreshTokenTTL, err = optionalDuration("AUTH_REFRESH_TTL"); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.Auth.LoginWindow, err = optionalDuration("AUTH_LOGIN_WINDOW"); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.Auth.CodeTTL, err = optionalDuration("AUTH_CODE_TTL"); err != nil {
		parseErrs = append(parseErrs, err)
	}

	c.Auth.SessionCookie = strings.TrimSpace(os.Getenv("AUTH_SESSION_COOKIE"))
	c.Auth.RefreshCookie = strings.TrimSpace(os.Getenv("AUTH_REFRESH_COOKIE"))
	c.Auth.CookieDomain = strings.TrimSpace(os.Getenv("AUTH_COOKIE_DOMAIN"))
	c.Auth.CookieSameSite = strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_COOKIE_SAMESITE")))
	if c.Auth.CookieSecure, err = optionalBool("AUTH_COOKIE_SECURE", true); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.Auth.EnforceVerifiedEmail, err = optionalBool("AUTH_REQUIRE_VERIFIED_EMAIL", false); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.Auth.LoginMaxAttempts, err = optionalInt("AUTH_LOGIN_MAX_ATTEMPTS", 10); err != nil {
		parseErrs = append(parseErrs, err)
	}

	c.Notify.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_DRIVER")))
	c.Notify.Stream = strings.TrimSpace(os.Getenv("NOTIFY_STREAM"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
	}

	errs = append(errs, c.Auth.validate(c.IsProduction())...)

	switch c.Notify.Driver {
	case "":
		c.Notify.Driver = "log"
	case "log", "redis":
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_DRIVER must be one of log, redis, got %q", c.Notify.Driver))
	}
	if c.Notify.Stream == "" {
		c.Notify.Stream = "notify:auth"
	}

	return joinErrors(errs)
}

func (a *AuthSettings) validate(production bool) []error {
	var errs []error

	if a.Secret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	} else if production && len(a.Secret) < 32 {
		errs = append(errs, errors.New("AUTH_SECRET must be at least 32 bytes in production"))
	}
	if a.SigningAlg == "" {
		a.SigningAlg = "HS256"
	}
	if !isValidSigningAlg(a.SigningAlg) {
		errs = append(errs, fmt.Errorf("AUTH_SIGNING_ALG must be one of HS256, HS384, HS512, got %q", a.SigningAlg))
	}
	if production {
		if a.Issuer == "" {
			errs = append(errs, errors.New("AUTH_ISSUER is required in production"))
		}
		if a.Audience == "" {
			errs = append(errs, errors.New("AUTH_AUDIENCE is required in production"))
		}
	}

	if a.SessionTokenTTL <= 0 {
		a.SessionTokenTTL = defaultSessionTTL
	}
	if a.RememberMeTokenTTL <= 0 {
		a.RememberMeTokenTTL = defaultRememberMeTTL
	}
	if a.RefreshTokenTTL <= 0 {
		a.RefreshTokenTTL = defaultRefreshTTL
	}
	if a.RememberMeTokenTTL < a.SessionTokenTTL {
		errs = append(errs, errors.New("AUTH_REMEMBER_ME_TTL must not be shorter than AUTH_SESSION_TTL"))
	}
	if a.RefreshTokenTTL <= a.SessionTokenTTL {
		errs = append(errs, errors.New("AUTH_REFRESH_TTL must be greater than AUTH_SESSION_TTL"))
	}

	if a.SessionCookie == "" {
		a.SessionCookie = "session"
	}
	if a.RefreshCookie == "" {
		a.RefreshCookie = "refresh_token"
	}
	if a.SessionCookie == a.RefreshCookie {
		errs = append(errs, errors.New("AUTH_SESSION_COOKIE and AUTH_REFRESH_COOKIE must differ"))
	}
	if a.CookieSameSite == "" {
		a.CookieSameSite = "none"
	}
	if !isValidSameSite(a.CookieSameSite) {
		errs = append(errs, fmt.Errorf("AUTH_COOKIE_SAMESITE must be one of none, lax, strict, got %q", a.CookieSameSite))
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if a.CookieSameSite == "none" && !a.CookieSecure {
		errs = append(errs, errors.New("AUTH_COOKIE_SECURE must be true when AUTH_COOKIE_SAMESITE=none"))
	}

	if a.LoginMaxAttempts <= 0 {
		a.LoginMaxAttempts = 10
	}
	if a.LoginWindow <= 0 {
		a.LoginWindow = defaultLoginWindow
	}
	if a.CodeTTL <= 0 {
		a.CodeTTL = defaultCodeTTL
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func collect(errs []error) func(int, error) (int, []error) {
	return func(n int, err error) (int, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidSigningAlg(v string) bool {
	switch v {
	case "HS256", "HS384", "HS512":
		return true
	default:
		return false
	}
}

func isValidSameSite(v string) bool {
	switch v {
	case "none", "lax", "strict":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
