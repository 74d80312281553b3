package model

import "strings"

// UserIdentity is the dual key under which ownership records are
// stored.  Historical rows populate only one of the two; lookups
// always try both.
type UserIdentity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role,omitempty"`
}

// NormalizedEmail returns the lower-cased, trimmed email.
func (u UserIdentity) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(u.Email))
}

// Empty reports whether neither key is set.
func (u UserIdentity) Empty() bool {
	return strings.TrimSpace(u.ID) == "" && u.NormalizedEmail() == ""
}

// Role names carried by identity tokens.
const (
	RoleInvestor  = "investor"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)
