// Package principal manages the platform's authenticated actors.
package principal

import (
	"strings"
	"time"

	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// Principal represents an authenticated actor the policy evaluates.
// Principals are never hard-deleted; suspension is the terminal removed
// state, preserving audit history.
type Principal struct {
	ID       types.ID              `json:"id"`
	Email    string                `json:"email"`
	FullName string                `json:"full_name"`
	Role     authz.Role            `json:"role"`
	Status   authz.PrincipalStatus `json:"status"`

	// CompanyID is zero only for the top administrative role.
	CompanyID types.ID `json:"company_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a principal in the pending status
func New(email, fullName string, role authz.Role, companyID types.ID) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.Validation("valid email is required", map[string]string{"email": email})
	}
	if fullName == "" {
		return nil, errors.Validation("full name is required", nil)
	}
	if !role.IsValid() {
		return nil, errors.Validation("unknown role", map[string]string{"role": string(role)})
	}
	if role != authz.RoleGlobalAdmin && companyID.IsZero() {
		return nil, errors.Validation("company is required for this role", nil)
	}

	now := time.Now()
	return &Principal{
		ID:        types.NewID(),
		Email:     email,
		FullName:  fullName,
		Role:      role,
		Status:    authz.StatusPending,
		CompanyID: companyID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Ref returns the policy view of the principal
func (p *Principal) Ref() authz.PrincipalRef {
	return authz.PrincipalRef{
		ID:        p.ID,
		Role:      p.Role,
		CompanyID: p.CompanyID,
		Status:    p.Status,
	}
}
