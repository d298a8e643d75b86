package auth

import (
	"errors"
	"fmt"
	"time"

	"identity-service/internal/config"
	"identity-service/internal/users"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrInvalidSignature covers every token that cannot be authenticated:
	// bad signature, wrong algorithm, wrong issuer/audience or malformed input.
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrSigning          = errors.New("auth: signing failed")
)

const clockSkew = 30 * time.Second

// Issuer mints and verifies session tokens and refresh credentials.
// All key material and lifetimes come from the injected config.Provider.
type Issuer struct {
	cfg   config.Provider
	clock func() time.Time
}

func NewIssuer(cfg config.Provider) *Issuer {
	return &Issuer{cfg: cfg, clock: time.Now}
}

/* ===================== ISSUE SESSION TOKEN ===================== */

func (i *Issuer) IssueSessionToken(a users.Account, rememberMe bool) (Claims, string, error) {
	method, key, err := i.signingMaterial()
	if err != nil {
		return Claims{}, "", err
	}

	now := i.clock().UTC().Truncate(time.Second)
	active := a.Active()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    i.cfg.TokenIssuer(),
			Audience:  audienceOrNil(i.cfg.TokenAudience()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.SessionTTL(rememberMe))),
			ID:        uuid.NewString(),
		},
		Name:       a.DisplayName,
		Email:      a.Email,
		Role:       string(a.Role),
		Image:      a.ProfileImage,
		Team:       a.Team,
		Active:     &active,
		RememberMe: rememberMe,
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return Claims{}, "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return claims, signed, nil
}

/* ===================== VERIFY SESSION TOKEN ===================== */

func (i *Issuer) VerifySessionToken(signed string) (Claims, error) {
	method, key, err := i.signingMaterial()
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(i.clock),
	}
	if iss := i.cfg.TokenIssuer(); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := i.cfg.TokenAudience(); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	var claims Claims
	_, err = jwt.NewParser(opts...).ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	default:
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: subject missing", ErrInvalidSignature)
	}
	return claims, nil
}

/* ===================== INTERNAL ===================== */

func (i *Issuer) signingMaterial() (jwt.SigningMethod, []byte, error) {
	key, err := i.cfg.SigningKey()
	if err != nil || len(key) == 0 {
		return nil, nil, fmt.Errorf("%w: %w", ErrSigning, config.ErrSigningKeyUnavailable)
	}
	method, ok := jwt.GetSigningMethod(i.cfg.SigningAlgorithm()).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unsupported algorithm %q", ErrSigning, i.cfg.SigningAlgorithm())
	}
	return method, key, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
