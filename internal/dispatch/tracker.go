package dispatch

import (
	"context"

	"github.com/safecity/platform/internal/authz"
	reportdomain "github.com/safecity/platform/internal/report/domain"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/metrics"
	"github.com/safecity/platform/internal/shared/types"
)

// Tracker validates and applies dispatch assignments and the dispatch
// record's status progression. It holds no cross-request state.
type Tracker struct {
	dispatches Repository
	reports    reportdomain.Repository
	policy     *authz.Evaluator
	bus        events.EventBus
	log        *logging.Logger
}

// NewTracker creates a dispatch tracker
func NewTracker(dispatches Repository, reports reportdomain.Repository, policy *authz.Evaluator, bus events.EventBus, log *logging.Logger) *Tracker {
	return &Tracker{
		dispatches: dispatches,
		reports:    reports,
		policy:     policy,
		bus:        bus,
		log:        log.WithComponent("dispatch"),
	}
}

// Assign creates a dispatch record for a report and moves the report to
// dispatched. A report that already has an active dispatch record must
// go through Reassign instead.
func (t *Tracker) Assign(ctx context.Context, reportID types.ID, responder authz.PrincipalRef, priority Priority, notes string, actor authz.PrincipalRef) (*Record, error) {
	report, err := t.reports.FindByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	decision := t.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionCreateDispatch,
		Report: &authz.ReportRef{ID: report.ID, CompanyID: report.CompanyID},
	})
	if err := decision.Err(); err != nil {
		return nil, err
	}

	if report.IsTerminal() {
		return nil, errors.ReportClosed(report.ID.String())
	}

	if _, err := t.dispatches.FindActiveByReport(ctx, reportID); err == nil {
		return nil, errors.AlreadyDispatched(reportID.String())
	} else if errors.CodeOf(err) != errors.CodeNotFound {
		return nil, err
	}

	rec, err := NewRecord(report.ID, responder.CompanyID, responder.ID, actor.ID, priority, notes)
	if err != nil {
		return nil, err
	}

	expectedStatus := report.Status
	expectedUpdatedAt := report.UpdatedAt

	if err := report.AssignResponder(responder.ID, responder.CompanyID, actor.ID); err != nil {
		return nil, err
	}
	if err := t.transitionToDispatched(report, actor.ID); err != nil {
		return nil, err
	}

	if err := t.dispatches.SaveAssignment(ctx, Assignment{
		Record:                  rec,
		Report:                  report,
		ReportExpectedStatus:    expectedStatus,
		ReportExpectedUpdatedAt: expectedUpdatedAt,
	}); err != nil {
		return nil, err
	}

	metrics.RecordDispatchAssigned()
	metrics.RecordReportStatusChange(string(expectedStatus), string(report.Status))
	t.publish(ctx, "dispatch.assigned", rec, actor)
	t.publishReportEvents(ctx, report, actor)

	t.log.Infow("dispatch assigned",
		"report_id", report.ID,
		"dispatch_id", rec.ID,
		"responder_id", responder.ID,
		"priority", priority)

	return rec, nil
}

// Reassign supersedes the report's active dispatch record and creates a
// new one, allowing an explicit company change.
func (t *Tracker) Reassign(ctx context.Context, reportID types.ID, responder authz.PrincipalRef, priority Priority, notes string, actor authz.PrincipalRef) (*Record, error) {
	report, err := t.reports.FindByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	decision := t.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionCreateDispatch,
		Report: &authz.ReportRef{ID: report.ID, CompanyID: report.CompanyID},
	})
	if err := decision.Err(); err != nil {
		return nil, err
	}

	if report.IsTerminal() {
		return nil, errors.ReportClosed(report.ID.String())
	}

	prior, err := t.dispatches.FindActiveByReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	priorStatus := prior.Status
	prior.Supersede()

	rec, err := NewRecord(report.ID, responder.CompanyID, responder.ID, actor.ID, priority, notes)
	if err != nil {
		return nil, err
	}

	expectedStatus := report.Status
	expectedUpdatedAt := report.UpdatedAt

	report.ReassignResponder(responder.ID, responder.CompanyID, actor.ID)
	if err := t.transitionToDispatched(report, actor.ID); err != nil {
		return nil, err
	}

	if err := t.dispatches.SaveAssignment(ctx, Assignment{
		Record:                  rec,
		Prior:                   prior,
		PriorExpectedStatus:     priorStatus,
		Report:                  report,
		ReportExpectedStatus:    expectedStatus,
		ReportExpectedUpdatedAt: expectedUpdatedAt,
	}); err != nil {
		return nil, err
	}

	metrics.RecordDispatchAssigned()
	t.publish(ctx, "dispatch.reassigned", rec, actor)
	t.publishReportEvents(ctx, report, actor)

	t.log.Infow("dispatch reassigned",
		"report_id", report.ID,
		"dispatch_id", rec.ID,
		"superseded", prior.ID,
		"responder_id", responder.ID)

	return rec, nil
}

// UpdateStatus advances a dispatch record along its linear path and
// mirrors the progression onto the report where the report's own
// lifecycle permits it.
func (t *Tracker) UpdateStatus(ctx context.Context, dispatchID types.ID, targetStatus Status, actor authz.PrincipalRef) (*Record, error) {
	rec, err := t.dispatches.FindByID(ctx, dispatchID)
	if err != nil {
		return nil, err
	}

	report, err := t.reports.FindByID(ctx, rec.ReportID)
	if err != nil {
		return nil, err
	}

	decision := t.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionTransitionDispatch,
		Report: &authz.ReportRef{ID: report.ID, CompanyID: report.CompanyID},
	})
	if err := decision.Err(); err != nil {
		return nil, err
	}

	oldStatus := rec.Status
	if err := rec.Advance(targetStatus); err != nil {
		return nil, err
	}
	if oldStatus == rec.Status {
		// Idempotent no-op, nothing to persist.
		return rec, nil
	}

	if err := t.dispatches.UpdateIfUnchanged(ctx, rec, oldStatus); err != nil {
		return nil, err
	}

	metrics.RecordDispatchStatusChange(string(oldStatus), string(rec.Status))
	t.publish(ctx, "dispatch.status_changed", rec, actor)

	// Mirror en_route and on_scene onto the report. A completed dispatch
	// leaves the report as-is; closing the incident is a separate,
	// moderator-gated resolution.
	if mirrored, ok := mirrorStatus(rec.Status); ok {
		t.mirrorReport(ctx, report, mirrored, actor)
	}

	return rec, nil
}

// mirrorStatus maps a dispatch status to the report status it implies.
func mirrorStatus(s Status) (reportdomain.ReportStatus, bool) {
	switch s {
	case StatusEnRoute:
		return reportdomain.ReportStatusEnRoute, true
	case StatusOnScene:
		return reportdomain.ReportStatusOnScene, true
	}
	return "", false
}

// mirrorReport applies a mirrored transition, tolerating reports whose
// lifecycle has diverged through a manual moderator override.
func (t *Tracker) mirrorReport(ctx context.Context, report *reportdomain.Report, target reportdomain.ReportStatus, actor authz.PrincipalRef) {
	expectedStatus := report.Status
	expectedUpdatedAt := report.UpdatedAt

	if err := report.Transition(target, actor.ID); err != nil {
		t.log.Debugw("report did not mirror dispatch status",
			"report_id", report.ID,
			"report_status", report.Status,
			"target", target)
		return
	}
	if report.Status == expectedStatus {
		return
	}

	if err := t.reports.UpdateIfUnchanged(ctx, report, expectedStatus, expectedUpdatedAt); err != nil {
		t.log.Warnw("failed to mirror dispatch status onto report",
			"report_id", report.ID,
			"target", target,
			"error", err)
		return
	}

	metrics.RecordReportStatusChange(string(expectedStatus), string(report.Status))
	t.publishReportEvents(ctx, report, actor)
}

// transitionToDispatched moves the report to dispatched, activating a
// pending report first. Dispatching straight from intake is a valid
// control-room flow.
func (t *Tracker) transitionToDispatched(report *reportdomain.Report, actorID types.ID) error {
	if report.Status == reportdomain.ReportStatusPending {
		if err := report.Transition(reportdomain.ReportStatusActive, actorID); err != nil {
			return err
		}
	}
	return report.Transition(reportdomain.ReportStatusDispatched, actorID)
}

func (t *Tracker) publish(ctx context.Context, eventType string, rec *Record, actor authz.PrincipalRef) {
	event := events.NewEvent(eventType, "dispatch", rec).
		WithActor(actor.ID, string(actor.Role), actor.CompanyID)
	if err := t.bus.Publish(ctx, event); err != nil {
		t.log.Warnw("failed to publish event", "type", eventType, "error", err)
	}
}

func (t *Tracker) publishReportEvents(ctx context.Context, report *reportdomain.Report, actor authz.PrincipalRef) {
	for _, de := range report.GetDomainEvents() {
		event := events.NewEvent("report."+de.Type, "report", de).
			WithActor(actor.ID, string(actor.Role), actor.CompanyID)
		if err := t.bus.Publish(ctx, event); err != nil {
			t.log.Warnw("failed to publish event", "type", event.Type, "error", err)
		}
	}
}
