package authz

import (
	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// PrincipalRef is the minimal view of a principal the policy needs.
type PrincipalRef struct {
	ID        types.ID
	Role      Role
	CompanyID types.ID // zero means no company assignment
	Status    PrincipalStatus
}

// ReportRef is the minimal view of a report the policy needs.
type ReportRef struct {
	ID        types.ID
	CompanyID types.ID // zero means unscoped, community-wide
}

// Scope describes where a principal's authority applies.
type Scope struct {
	Global    bool
	CompanyID types.ID
}

// ResolveScope derives a principal's scope. Only the top administrative
// role may operate without a company assignment; any other role with no
// company is a data-entry defect and is rejected.
func ResolveScope(p PrincipalRef) (Scope, error) {
	if p.Role == RoleGlobalAdmin {
		return Scope{Global: true}, nil
	}
	if p.CompanyID.IsZero() {
		return Scope{}, apperrors.Unauthorized("principal has no company assignment")
	}
	return Scope{CompanyID: p.CompanyID}, nil
}

// SameScope reports whether two principals share a tenant. A global
// scope shares a tenant with everyone.
func SameScope(a, b PrincipalRef) bool {
	sa, err := ResolveScope(a)
	if err != nil {
		return false
	}
	sb, err := ResolveScope(b)
	if err != nil {
		return false
	}
	if sa.Global || sb.Global {
		return true
	}
	return sa.CompanyID == sb.CompanyID
}

// ReportCompany resolves a report's effective company from its assigned
// responder's owning company. An unassigned report is community-wide.
func ReportCompany(responder *PrincipalRef) types.ID {
	if responder == nil {
		return ""
	}
	return responder.CompanyID
}
