package domain

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Admins are regular site users with elevated frontend
// privileges; the master API key surface is separate and not tied to a user.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole reports whether r is a known user role.
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAdmin
}

// User is an account scoped to a single site. The same email address may
// exist independently under different sites.
type User struct {
	ID           uuid.UUID `json:"id"`
	SiteID       uuid.UUID `json:"site_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
