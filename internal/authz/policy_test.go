package authz

import (
	"context"
	"testing"

	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/types"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(false, logging.Nop())
}

func activePrincipal(role Role, companyID types.ID) PrincipalRef {
	return PrincipalRef{ID: types.NewID(), Role: role, CompanyID: companyID, Status: StatusActive}
}

func TestAuthorizeActorInactive(t *testing.T) {
	e := newTestEvaluator()
	c1 := types.NewID()
	target := activePrincipal(RoleUser, c1)

	for _, status := range []PrincipalStatus{StatusPending, StatusSuspended} {
		actor := activePrincipal(RoleCompanyAdmin, c1)
		actor.Status = status

		d := e.Authorize(Input{Actor: actor, Action: ActionChangeStatus, Target: &target})
		if d.Allow {
			t.Errorf("status %s: expected deny", status)
		}
		if d.Reason != apperrors.CodeActorInactive {
			t.Errorf("status %s: expected %s, got %s", status, apperrors.CodeActorInactive, d.Reason)
		}
	}
}

func TestAuthorizeGlobalAdminBypass(t *testing.T) {
	e := newTestEvaluator()
	admin := activePrincipal(RoleGlobalAdmin, "")
	c1 := types.NewID()
	target := activePrincipal(RoleCompanyAdmin, c1)
	newRole := RoleModerator

	d := e.Authorize(Input{Actor: admin, Action: ActionChangeRole, Target: &target, NewRole: &newRole})
	if !d.Allow {
		t.Errorf("expected global admin to bypass company scoping, got %s", d.Reason)
	}
}

func TestAuthorizeSelfLockout(t *testing.T) {
	e := newTestEvaluator()
	c1 := types.NewID()

	t.Run("self suspension is always denied", func(t *testing.T) {
		// Even the top administrative role cannot suspend itself.
		for _, role := range []Role{RoleGlobalAdmin, RoleCompanyAdmin, RoleModerator} {
			actor := activePrincipal(role, c1)
			if role == RoleGlobalAdmin {
				actor.CompanyID = ""
			}
			suspended := StatusSuspended

			d := e.Authorize(Input{Actor: actor, Action: ActionChangeStatus, Target: &actor, NewStatus: &suspended})
			if d.Allow {
				t.Errorf("role %s: expected deny", role)
			}
			if d.Reason != apperrors.CodeSelfActionForbidden {
				t.Errorf("role %s: expected %s, got %s", role, apperrors.CodeSelfActionForbidden, d.Reason)
			}
		}
	})

	t.Run("self role change is denied", func(t *testing.T) {
		actor := activePrincipal(RoleGlobalAdmin, "")
		newRole := RoleUser

		d := e.Authorize(Input{Actor: actor, Action: ActionChangeRole, Target: &actor, NewRole: &newRole})
		if d.Allow || d.Reason != apperrors.CodeSelfActionForbidden {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeSelfActionForbidden, d.Allow, d.Reason)
		}
	})

	t.Run("self role no-op passes the guard", func(t *testing.T) {
		actor := activePrincipal(RoleGlobalAdmin, "")
		sameRole := actor.Role

		d := e.Authorize(Input{Actor: actor, Action: ActionChangeRole, Target: &actor, NewRole: &sameRole})
		if !d.Allow {
			t.Errorf("expected allow for no-op self role change, got %s", d.Reason)
		}
	})

	t.Run("self deletion is denied", func(t *testing.T) {
		actor := activePrincipal(RoleCompanyAdmin, c1)

		d := e.Authorize(Input{Actor: actor, Action: ActionDeletePrincipal, Target: &actor})
		if d.Allow || d.Reason != apperrors.CodeSelfActionForbidden {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeSelfActionForbidden, d.Allow, d.Reason)
		}
	})
}

func TestAuthorizeCrossCompany(t *testing.T) {
	e := newTestEvaluator()
	c1 := types.NewID()
	c2 := types.NewID()

	t.Run("principal in another company", func(t *testing.T) {
		actor := activePrincipal(RoleCompanyAdmin, c1)
		target := activePrincipal(RoleUser, c2)
		suspended := StatusSuspended

		d := e.Authorize(Input{Actor: actor, Action: ActionChangeStatus, Target: &target, NewStatus: &suspended})
		if d.Allow || d.Reason != apperrors.CodeCrossCompany {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeCrossCompany, d.Allow, d.Reason)
		}
	})

	t.Run("report scoped to another company", func(t *testing.T) {
		actor := activePrincipal(RoleModerator, c1)
		report := ReportRef{ID: types.NewID(), CompanyID: c2}

		d := e.Authorize(Input{Actor: actor, Action: ActionTransitionReport, Report: &report})
		if d.Allow || d.Reason != apperrors.CodeCrossCompany {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeCrossCompany, d.Allow, d.Reason)
		}
	})

	t.Run("unscoped report actionable by any moderator", func(t *testing.T) {
		actor := activePrincipal(RoleModerator, c1)
		report := ReportRef{ID: types.NewID()}

		d := e.Authorize(Input{Actor: actor, Action: ActionTransitionReport, Report: &report})
		if !d.Allow {
			t.Errorf("expected allow for unscoped report, got %s", d.Reason)
		}
	})

	t.Run("creating a principal in another company", func(t *testing.T) {
		actor := activePrincipal(RoleCompanyAdmin, c1)

		d := e.Authorize(Input{Actor: actor, Action: ActionCreatePrincipal, NewCompanyID: c2})
		if d.Allow || d.Reason != apperrors.CodeCrossCompany {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeCrossCompany, d.Allow, d.Reason)
		}
	})

	t.Run("creating a principal in own company", func(t *testing.T) {
		actor := activePrincipal(RoleCompanyAdmin, c1)

		d := e.Authorize(Input{Actor: actor, Action: ActionCreatePrincipal, NewCompanyID: c1})
		if !d.Allow {
			t.Errorf("expected allow, got %s", d.Reason)
		}
	})
}

func TestAuthorizeInsufficientRank(t *testing.T) {
	e := newTestEvaluator()
	c1 := types.NewID()

	t.Run("equal rank target", func(t *testing.T) {
		actor := activePrincipal(RoleCompanyAdmin, c1)
		target := activePrincipal(RoleCompanyAdmin, c1)
		newRole := RoleUser

		d := e.Authorize(Input{Actor: actor, Action: ActionChangeRole, Target: &target, NewRole: &newRole})
		if d.Allow || d.Reason != apperrors.CodeInsufficientRank {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeInsufficientRank, d.Allow, d.Reason)
		}
	})

	t.Run("newly promoted moderator cannot act on global admin", func(t *testing.T) {
		// A global admin promotes a user to moderator; the moderator
		// then tries to change the admin's role back.
		admin := activePrincipal(RoleGlobalAdmin, "")
		promoted := activePrincipal(RoleUser, c1)
		modRole := RoleModerator

		d := e.Authorize(Input{Actor: admin, Action: ActionChangeRole, Target: &promoted, NewRole: &modRole})
		if !d.Allow {
			t.Fatalf("expected promotion to be allowed, got %s", d.Reason)
		}

		promoted.Role = RoleModerator
		userRole := RoleUser
		d = e.Authorize(Input{Actor: promoted, Action: ActionChangeRole, Target: &admin, NewRole: &userRole})
		if d.Allow || d.Reason != apperrors.CodeInsufficientRank {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeInsufficientRank, d.Allow, d.Reason)
		}
	})

	t.Run("user cannot transition reports", func(t *testing.T) {
		actor := activePrincipal(RoleUser, c1)
		report := ReportRef{ID: types.NewID()}

		d := e.Authorize(Input{Actor: actor, Action: ActionTransitionReport, Report: &report})
		if d.Allow || d.Reason != apperrors.CodeInsufficientRank {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeInsufficientRank, d.Allow, d.Reason)
		}
	})

	t.Run("moderator cannot manage principals", func(t *testing.T) {
		actor := activePrincipal(RoleModerator, c1)
		target := activePrincipal(RoleUser, c1)
		suspended := StatusSuspended

		d := e.Authorize(Input{Actor: actor, Action: ActionChangeStatus, Target: &target, NewStatus: &suspended})
		if d.Allow || d.Reason != apperrors.CodeInsufficientRank {
			t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeInsufficientRank, d.Allow, d.Reason)
		}
	})
}

func TestAuthorizeCreateReportUnrestricted(t *testing.T) {
	e := newTestEvaluator()
	c1 := types.NewID()

	for _, role := range []Role{RoleUser, RoleController, RoleModerator, RoleCompanyAdmin} {
		actor := activePrincipal(role, c1)
		d := e.Authorize(Input{Actor: actor, Action: ActionCreateReport})
		if !d.Allow {
			t.Errorf("role %s: expected any active principal to create reports, got %s", role, d.Reason)
		}
	}
}

func TestAuthorizeFailsClosedOnMissingCompany(t *testing.T) {
	e := newTestEvaluator()

	// A moderator with no company assignment is a data-entry defect.
	actor := activePrincipal(RoleModerator, "")
	report := ReportRef{ID: types.NewID()}

	d := e.Authorize(Input{Actor: actor, Action: ActionTransitionReport, Report: &report})
	if d.Allow || d.Reason != apperrors.CodeUnauthorized {
		t.Errorf("expected %s, got allow=%v reason=%s", apperrors.CodeUnauthorized, d.Allow, d.Reason)
	}
}

func TestAuthorizeAllowAll(t *testing.T) {
	e := NewEvaluator(true, logging.Nop())
	actor := PrincipalRef{ID: types.NewID(), Role: RoleUser, Status: StatusSuspended}
	target := activePrincipal(RoleGlobalAdmin, "")

	d := e.Authorize(Input{Actor: actor, Action: ActionDeletePrincipal, Target: &target})
	if !d.Allow {
		t.Errorf("expected allow-all mode to skip every check, got %s", d.Reason)
	}
}

// recordingBus captures published events for assertions
type recordingBus struct {
	published []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) error {
	b.published = append(b.published, event)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler events.Handler) error {
	return nil
}

func (b *recordingBus) Close()        {}
func (b *recordingBus) Health() error { return nil }

func TestAuditDenials(t *testing.T) {
	e := newTestEvaluator()
	bus := &recordingBus{}
	e.AuditDenials(bus)

	c1 := types.NewID()
	actor := activePrincipal(RoleCompanyAdmin, c1)
	target := activePrincipal(RoleUser, types.NewID())

	d := e.Authorize(Input{Actor: actor, Action: ActionChangeStatus, Target: &target})
	if d.Allow {
		t.Fatal("expected deny")
	}

	if len(bus.published) != 1 {
		t.Fatalf("expected 1 denial event, got %d", len(bus.published))
	}

	event := bus.published[0]
	if event.Type != "authz.denied" {
		t.Errorf("expected event type authz.denied, got %s", event.Type)
	}
	if event.ActorID != actor.ID {
		t.Errorf("expected actor %s, got %s", actor.ID, event.ActorID)
	}

	data, ok := event.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map data, got %T", event.Data)
	}
	if data["reason"] != apperrors.CodeCrossCompany {
		t.Errorf("expected reason %s, got %v", apperrors.CodeCrossCompany, data["reason"])
	}
	if data["id"] != target.ID {
		t.Errorf("expected subject %s, got %v", target.ID, data["id"])
	}

	// Allowed decisions do not reach the audit log.
	sameCompany := activePrincipal(RoleUser, c1)
	if d := e.Authorize(Input{Actor: actor, Action: ActionChangeStatus, Target: &sameCompany}); !d.Allow {
		t.Fatalf("expected allow, got %s", d.Reason)
	}
	if len(bus.published) != 1 {
		t.Errorf("expected no event for an allowed decision, got %d", len(bus.published))
	}
}

func TestDecisionErr(t *testing.T) {
	tests := []struct {
		reason     string
		wantCode   string
		wantStatus int
	}{
		{apperrors.CodeActorInactive, apperrors.CodeActorInactive, 401},
		{apperrors.CodeUnauthorized, apperrors.CodeUnauthorized, 401},
		{apperrors.CodeInsufficientRank, apperrors.CodeInsufficientRank, 403},
		{apperrors.CodeCrossCompany, apperrors.CodeCrossCompany, 403},
		{apperrors.CodeSelfActionForbidden, apperrors.CodeSelfActionForbidden, 403},
		{apperrors.CodeValidation, apperrors.CodeValidation, 400},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			d := deny(tt.reason, "denied")
			err := d.Err()
			appErr, ok := err.(*apperrors.AppError)
			if !ok {
				t.Fatalf("expected *AppError, got %T", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, appErr.Code)
			}
			if appErr.HTTPStatus != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, appErr.HTTPStatus)
			}
		})
	}

	if err := allow.Err(); err != nil {
		t.Errorf("expected nil error for allowed decision, got %v", err)
	}
}
