package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported session token claims shape.
// Subject carries the account id; everything else is display data for the client.
type Claims struct {
	jwt.RegisteredClaims

	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Image      string `json:"image,omitempty"`
	Team       string `json:"team,omitempty"`
	Active     *bool  `json:"active,omitempty"`
	RememberMe bool   `json:"remember_me,omitempty"`
}

func (c Claims) UserID() string { return c.Subject }
