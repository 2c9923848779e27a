package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of actor roles. It is resolved once at the
// boundary (actor.Resolver) and passed as data from there on.
type Role string

const (
	RoleDriver  Role = "DRIVER"
	RoleSponsor Role = "SPONSOR"
	RoleAdmin   Role = "ADMIN"
	RoleSystem  Role = "SYSTEM"
	RoleUnknown Role = "UNKNOWN"
)

// ParseRole maps an accounts.role column value to a Role.
func ParseRole(s string) Role {
	switch s {
	case "driver", "DRIVER":
		return RoleDriver
	case "sponsor", "SPONSOR":
		return RoleSponsor
	case "admin", "ADMIN":
		return RoleAdmin
	case "system", "SYSTEM":
		return RoleSystem
	default:
		return RoleUnknown
	}
}

// Label returns the human-readable form used in audit labels.
func (r Role) Label() string {
	switch r {
	case RoleDriver:
		return "Driver"
	case RoleSponsor:
		return "Sponsor"
	case RoleAdmin:
		return "Admin"
	case RoleSystem:
		return "System"
	default:
		return "Unknown"
	}
}

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
