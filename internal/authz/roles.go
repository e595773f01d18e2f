// Package authz provides the role hierarchy, company scoping, and the
// policy evaluator consulted before every mutating operation.
package authz

import (
	apperrors "github.com/safecity/platform/internal/shared/errors"
)

// Role represents a principal role in the system.
type Role string

const (
	RoleGlobalAdmin  Role = "global_admin"  // Full platform access, no company boundary
	RoleCompanyAdmin Role = "company_admin" // Manage one company's principals and settings
	RoleModerator    Role = "moderator"     // Triage and resolve reports
	RoleController   Role = "controller"    // Dispatch console, field responders
	RoleUser         Role = "user"          // Basic authenticated citizen
)

// roleRank orders roles by authority. Higher outranks lower.
var roleRank = map[Role]int{
	RoleGlobalAdmin:  5,
	RoleCompanyAdmin: 4,
	RoleModerator:    3,
	RoleController:   2,
	RoleUser:         1,
}

// legacyRoleAliases maps role literals found in older client payloads
// to the canonical set. Unknown literals are rejected, never defaulted.
var legacyRoleAliases = map[string]Role{
	"admin":         RoleCompanyAdmin,
	"administrator": RoleCompanyAdmin,
	"ADMIN":         RoleGlobalAdmin,
	"OFFICER":       RoleController,
	"USER":          RoleUser,
	"responder":     RoleController,
}

// ParseRole validates a role literal, accepting legacy aliases.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; ok {
		return r, nil
	}
	if alias, ok := legacyRoleAliases[s]; ok {
		return alias, nil
	}
	return "", apperrors.Validation("unknown role", map[string]string{"role": s})
}

// IsValid reports whether the role is one of the canonical roles.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the authority rank of the role, 0 for unknown roles.
func (r Role) Rank() int {
	return roleRank[r]
}

// Outranks reports whether a holds strictly more authority than b.
func Outranks(a, b Role) bool {
	return roleRank[a] > roleRank[b]
}

// SameOrHigher reports whether a holds at least as much authority as b.
func SameOrHigher(a, b Role) bool {
	return roleRank[a] >= roleRank[b]
}

// PrincipalStatus represents the lifecycle state of a principal.
type PrincipalStatus string

const (
	StatusPending   PrincipalStatus = "pending"
	StatusActive    PrincipalStatus = "active"
	StatusSuspended PrincipalStatus = "suspended"
)

// ParsePrincipalStatus validates a principal status literal.
func ParsePrincipalStatus(s string) (PrincipalStatus, error) {
	switch PrincipalStatus(s) {
	case StatusPending, StatusActive, StatusSuspended:
		return PrincipalStatus(s), nil
	}
	return "", apperrors.Validation("unknown principal status", map[string]string{"status": s})
}
