package authz

import (
	"context"

	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/metrics"
	"github.com/safecity/platform/internal/shared/types"
)

// Action is a mutating operation gated by the policy.
type Action string

const (
	ActionChangeRole         Action = "change_role"
	ActionChangeStatus       Action = "change_status"
	ActionAssignCompany      Action = "assign_company"
	ActionCreatePrincipal    Action = "create_principal"
	ActionDeletePrincipal    Action = "delete_principal"
	ActionManageCompany      Action = "manage_company"
	ActionCreateReport       Action = "create_report"
	ActionTransitionReport   Action = "transition_report"
	ActionCreateDispatch     Action = "create_dispatch"
	ActionTransitionDispatch Action = "transition_dispatch"
)

// principalActions are actions that target another principal.
var principalActions = map[Action]bool{
	ActionChangeRole:      true,
	ActionChangeStatus:    true,
	ActionAssignCompany:   true,
	ActionCreatePrincipal: true,
	ActionDeletePrincipal: true,
}

// rankGuardedActions may only be performed on strictly lower-ranked principals.
var rankGuardedActions = map[Action]bool{
	ActionChangeRole:      true,
	ActionChangeStatus:    true,
	ActionDeletePrincipal: true,
}

// Input carries everything a single authorization decision needs. All
// fields beyond Actor and Action are optional and depend on the action.
type Input struct {
	Actor  PrincipalRef
	Action Action

	// Target is the principal acted upon, for principal-directed actions.
	Target *PrincipalRef

	// Report is the report acted upon, for report and dispatch actions.
	Report *ReportRef

	// NewRole is the requested role for ChangeRole.
	NewRole *Role

	// NewStatus is the requested status for ChangeStatus.
	NewStatus *PrincipalStatus

	// NewCompanyID is the explicit company assignment for CreatePrincipal
	// and AssignCompany.
	NewCompanyID types.ID
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allow   bool
	Reason  string
	Message string
}

var allow = Decision{Allow: true}

func deny(reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

// Err maps a denial to its application error. Allowed decisions map to nil.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	switch d.Reason {
	case apperrors.CodeActorInactive:
		return apperrors.ActorInactive()
	case apperrors.CodeUnauthorized:
		return apperrors.Unauthorized(d.Message)
	case apperrors.CodeInsufficientRank:
		return apperrors.InsufficientRank(d.Message)
	case apperrors.CodeCrossCompany:
		return apperrors.CrossCompany(d.Message)
	case apperrors.CodeSelfActionForbidden:
		return apperrors.SelfActionForbidden(d.Message)
	case apperrors.CodeValidation:
		return apperrors.Validation(d.Message, nil)
	}
	return apperrors.Unauthorized(d.Message)
}

// Evaluator decides whether a principal may perform an action. It is
// stateless; every input is passed explicitly per call.
type Evaluator struct {
	allowAll  bool
	denialBus events.EventBus
	log       *logging.Logger
}

// NewEvaluator creates a policy evaluator. allowAll disables every check
// and must only ever be set from test configuration.
func NewEvaluator(allowAll bool, log *logging.Logger) *Evaluator {
	return &Evaluator{allowAll: allowAll, log: log.WithComponent("authz")}
}

// AuditDenials publishes every denied decision on the bus, where the
// audit subscriber records it in the tamper-evident log.
func (e *Evaluator) AuditDenials(bus events.EventBus) {
	e.denialBus = bus
}

// Authorize evaluates the policy rules in order, first match wins.
func (e *Evaluator) Authorize(in Input) Decision {
	d := e.evaluate(in)
	metrics.RecordAuthorizationDecision(string(in.Action), d.Allow, d.Reason)
	if !d.Allow {
		e.log.Debugw("authorization denied",
			"actor_id", in.Actor.ID,
			"actor_role", in.Actor.Role,
			"action", in.Action,
			"reason", d.Reason)
		if e.denialBus != nil {
			e.publishDenial(in, d)
		}
	}
	return d
}

func (e *Evaluator) publishDenial(in Input, d Decision) {
	data := map[string]any{
		"action": string(in.Action),
		"reason": d.Reason,
	}
	if in.Target != nil {
		data["id"] = in.Target.ID
	} else if in.Report != nil {
		data["id"] = in.Report.ID
	}

	event := events.NewEvent("authz.denied", "authz", data).
		WithActor(in.Actor.ID, string(in.Actor.Role), in.Actor.CompanyID)
	if err := e.denialBus.Publish(context.Background(), event); err != nil {
		e.log.Warnw("failed to publish denial event", "error", err)
	}
}

func (e *Evaluator) evaluate(in Input) Decision {
	if e.allowAll {
		return allow
	}

	actor := in.Actor

	if !actor.Role.IsValid() {
		return deny(apperrors.CodeValidation, "unknown actor role")
	}

	// Rule 1: only active principals act.
	if actor.Status != StatusActive {
		return deny(apperrors.CodeActorInactive, "acting principal is not active")
	}

	// Self-action guard. Runs before the global-admin bypass so that no
	// principal, however ranked, can lock itself out.
	if in.Target != nil && actor.ID == in.Target.ID {
		if d, ok := e.checkSelfAction(in); ok {
			return d
		}
	}

	// Rule 2: global admin bypasses company scoping for everything else.
	if actor.Role == RoleGlobalAdmin {
		return allow
	}

	// Fail closed on defective principal records.
	scope, err := ResolveScope(actor)
	if err != nil {
		return deny(apperrors.CodeUnauthorized, "principal has no company assignment")
	}

	if principalActions[in.Action] || in.Action == ActionManageCompany {
		return e.evaluatePrincipalAction(in, scope)
	}

	return e.evaluateReportAction(in, scope)
}

// checkSelfAction returns a denial when the action would strip the
// actor's own access. Returns ok=false when the self-target is harmless.
func (e *Evaluator) checkSelfAction(in Input) (Decision, bool) {
	switch in.Action {
	case ActionChangeStatus:
		if in.NewStatus != nil && *in.NewStatus == StatusSuspended {
			return deny(apperrors.CodeSelfActionForbidden, "cannot suspend yourself"), true
		}
	case ActionChangeRole:
		if in.NewRole != nil && *in.NewRole != in.Actor.Role {
			return deny(apperrors.CodeSelfActionForbidden, "cannot change your own role"), true
		}
	case ActionDeletePrincipal:
		return deny(apperrors.CodeSelfActionForbidden, "cannot remove yourself"), true
	}
	return Decision{}, false
}

func (e *Evaluator) evaluatePrincipalAction(in Input, scope Scope) Decision {
	// Principal and company management requires company administration.
	if !SameOrHigher(in.Actor.Role, RoleCompanyAdmin) {
		return deny(apperrors.CodeInsufficientRank, "requires company administrator")
	}

	if in.Action == ActionManageCompany {
		// A company admin may only manage its own company.
		if !in.NewCompanyID.IsZero() && in.NewCompanyID != scope.CompanyID {
			return deny(apperrors.CodeCrossCompany, "cannot manage another company")
		}
		return allow
	}

	if in.Action == ActionCreatePrincipal {
		// Creation carries an explicit company assignment instead of an
		// existing target; the actor must be permitted to manage it.
		if !in.NewCompanyID.IsZero() && in.NewCompanyID != scope.CompanyID {
			return deny(apperrors.CodeCrossCompany, "cannot create principals in another company")
		}
		return allow
	}

	if in.Target == nil {
		return deny(apperrors.CodeValidation, "action requires a target principal")
	}

	// Rule 3: company boundary.
	if !SameScope(in.Actor, *in.Target) {
		return deny(apperrors.CodeCrossCompany, "target belongs to another company")
	}

	// Rule 4: only strictly lower-ranked principals may be acted on.
	if rankGuardedActions[in.Action] && SameOrHigher(in.Target.Role, in.Actor.Role) {
		return deny(apperrors.CodeInsufficientRank, "target holds equal or higher rank")
	}

	if in.Action == ActionAssignCompany && !in.NewCompanyID.IsZero() && in.NewCompanyID != scope.CompanyID {
		return deny(apperrors.CodeCrossCompany, "cannot assign principals to another company")
	}

	return allow
}

func (e *Evaluator) evaluateReportAction(in Input, scope Scope) Decision {
	// Any active principal may file a report.
	if in.Action == ActionCreateReport {
		return allow
	}

	// Rule 6: triage, dispatch, and resolution require at least the
	// dispatch console role.
	if !SameOrHigher(in.Actor.Role, RoleController) {
		return deny(apperrors.CodeInsufficientRank, "requires controller or above")
	}

	// Reports with no company assignment are actionable by anyone
	// cleared above; scoped reports only within the same company.
	if in.Report != nil && !in.Report.CompanyID.IsZero() && in.Report.CompanyID != scope.CompanyID {
		return deny(apperrors.CodeCrossCompany, "report belongs to another company")
	}

	return allow
}
