package domain

import "time"

// UserRole enumerates assignable roles. Assignment and escalation rules
// reference roles by these values.
type UserRole string

const (
	RoleAgent    UserRole = "AGENT"
	RoleEngineer UserRole = "ENGINEER"
	RoleManager  UserRole = "MANAGER"
	RoleAdmin    UserRole = "ADMIN"
)

// User represents an account that can be assigned tickets. System users
// (integration accounts) are excluded from round-robin candidate sets.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      UserRole
	IsSystem  bool
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
