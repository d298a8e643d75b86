package authn

import (
	"net/mail"
	"unicode/utf8"
)

const (
	minPasswordLen    = 6
	maxPasswordLen    = 128
	maxDisplayNameLen = 100
	maxEmailLen       = 254
)

// validateEmail expects an already normalized address.
func validateEmail(email string) error {
	if email == "" {
		return invalidInput("email is required")
	}
	if len(email) > maxEmailLen {
		return invalidInput("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalidInput("email is not a valid address")
	}
	return nil
}

func validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < minPasswordLen {
		return invalidInput("password must be at least 6 characters")
	}
	if n > maxPasswordLen {
		return invalidInput("password must be at most 128 characters")
	}
	return nil
}

func validateDisplayName(name string) error {
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return invalidInput("name must be at most 100 characters")
	}
	return nil
}
