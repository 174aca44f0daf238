// Package model defines domain entities for the application.
package model

import "time"

// Role constants for account authorization levels.
const (
	RoleUser      = "user"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleUser, RoleDeveloper, RoleAdmin}

// roleRank orders roles for comparisons. Unknown roles rank below user.
var roleRank = map[string]int{
	RoleUser:      1,
	RoleDeveloper: 2,
	RoleAdmin:     3,
}

// IsValidRole reports whether role is one of the known role values.
func IsValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// RoleAtLeast reports whether role ranks at or above min.
func RoleAtLeast(role, min string) bool {
	return roleRank[role] >= roleRank[min]
}

// Account represents a registered account scoped to a single app.
// The distinguished admin account has an empty App and role "admin";
// it is seeded from configuration at startup and bypasses app scoping.
type Account struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email" json:"email"`
	App          string    `bson:"app" json:"app"`
	Role         string    `bson:"role" json:"role"`
	PasswordHash string    `bson:"password_hash" json:"-"` // Never serialize
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// IsRootAdmin reports whether the account is the distinguished admin
// identity (unscoped admin).
func (a *Account) IsRootAdmin() bool {
	return a.App == "" && a.Role == RoleAdmin
}

// Identity is the authenticated caller attached to a request context by the
// session middleware. It carries the account fields authorization needs,
// never a live reference to the Account.
type Identity struct {
	Email string `json:"email"`
	App   string `json:"app"`
	Role  string `json:"role"`
}

// IsRootAdmin reports whether the identity is the distinguished admin.
func (i Identity) IsRootAdmin() bool {
	return i.App == "" && i.Role == RoleAdmin
}
