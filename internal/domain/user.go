package domain

import (
	"strings"
	"time"
)

// UserStatus is the lifecycle state of an account holder.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// Role determines which routes a user may call.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an account holder in the system
type User struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Status           UserStatus `json:"status" db:"status"`
	Role             Role       `json:"role" db:"role"`
	TwoFactorEnabled bool       `json:"two_factor_enabled" db:"two_factor_enabled"`
	TwoFactorSecret  *string    `json:"-" db:"two_factor_secret"`
	BackupCodes      []string   `json:"-" db:"backup_codes"` // sha256 hex digests
	LastLoginAt      *time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time `json:"-" db:"deleted_at"`
}

// NewUser builds an active user from an already hashed password.
func NewUser(email, passwordHash string) *User {
	return &User{
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Status:       UserStatusActive,
		Role:         RoleUser,
	}
}

// IsActive reports whether the user may authenticate.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive && u.DeletedAt == nil
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
