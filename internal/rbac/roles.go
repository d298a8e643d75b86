package rbac

import "identity-service/internal/users"

// Role names. Keep these stable; they are signed into session tokens.
const (
	RoleUser  = string(users.RoleUser)
	RoleAdmin = string(users.RoleAdmin)
)

func IsAdmin(role string) bool { return role == RoleAdmin }
