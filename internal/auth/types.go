package auth

import (
	"strings"
	"time"
)

// Role names a fixed bundle of capabilities.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

// ParseRole normalizes s into a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleUser, RoleManager, RoleViewer:
		return r, true
	}
	return "", false
}

// User is a persisted account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Actor returns the authorization view of u.
func (u *User) Actor() *Actor {
	if u == nil {
		return nil
	}
	return &Actor{ID: u.ID, Role: u.Role, Active: u.Active}
}

// Actor is the authenticated principal checked by the authorization engine.
type Actor struct {
	ID     string
	Role   Role
	Active bool
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}
