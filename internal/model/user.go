package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's RBAC role. Review and monitoring endpoints require
// RoleAdmin or RoleAgent.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleUser:
		return true
	}
	return false
}

// CanReview reports whether the role may act on escalations and read
// monitoring data.
func (r Role) CanReview() bool {
	return r == RoleAdmin || r == RoleAgent
}

// User is a registered account. PasswordHash never leaves the storage and
// auth layers.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
