package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/safecity/platform/internal/authz"
	reportdomain "github.com/safecity/platform/internal/report/domain"
	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/types"
)

// memoryReportRepo is an in-memory reportdomain.Repository for tests
type memoryReportRepo struct {
	reports map[types.ID]*reportdomain.Report
}

func newMemoryReportRepo() *memoryReportRepo {
	return &memoryReportRepo{reports: make(map[types.ID]*reportdomain.Report)}
}

func (m *memoryReportRepo) Save(ctx context.Context, r *reportdomain.Report) error {
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memoryReportRepo) FindByID(ctx context.Context, id types.ID) (*reportdomain.Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, apperrors.NotFound("report", id.String())
	}
	cp := *r
	return &cp, nil
}

func (m *memoryReportRepo) FindByReportNumber(ctx context.Context, n string) (*reportdomain.Report, error) {
	for _, r := range m.reports {
		if r.ReportNumber == n {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("report", n)
}

func (m *memoryReportRepo) Update(ctx context.Context, r *reportdomain.Report) error {
	if _, ok := m.reports[r.ID]; !ok {
		return apperrors.NotFound("report", r.ID.String())
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memoryReportRepo) UpdateIfUnchanged(ctx context.Context, r *reportdomain.Report, expectedStatus reportdomain.ReportStatus, expectedUpdatedAt time.Time) error {
	stored, ok := m.reports[r.ID]
	if !ok {
		return apperrors.NotFound("report", r.ID.String())
	}
	if stored.Status != expectedStatus || !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return apperrors.Conflict("report was modified concurrently")
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memoryReportRepo) List(ctx context.Context, f reportdomain.ListFilter) ([]reportdomain.Report, int, error) {
	return nil, 0, nil
}

func (m *memoryReportRepo) FindByReporter(ctx context.Context, id types.ID, f reportdomain.ListFilter) ([]reportdomain.Report, int, error) {
	return nil, 0, nil
}

func (m *memoryReportRepo) FindByCompany(ctx context.Context, id types.ID, f reportdomain.ListFilter) ([]reportdomain.Report, int, error) {
	return nil, 0, nil
}

// memoryDispatchRepo is an in-memory dispatch Repository for tests. It
// shares the report repo so SaveAssignment can apply both writes, and
// saveAssignmentErr injects a storage failure on that path.
type memoryDispatchRepo struct {
	records           map[types.ID]*Record
	reports           *memoryReportRepo
	saveAssignmentErr error
}

func newMemoryDispatchRepo(reports *memoryReportRepo) *memoryDispatchRepo {
	return &memoryDispatchRepo{records: make(map[types.ID]*Record), reports: reports}
}

func (m *memoryDispatchRepo) Save(ctx context.Context, rec *Record) error {
	for _, existing := range m.records {
		if existing.ReportID == rec.ReportID && existing.Active && rec.Active {
			return apperrors.AlreadyDispatched(rec.ReportID.String())
		}
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memoryDispatchRepo) SaveAssignment(ctx context.Context, a Assignment) error {
	if m.saveAssignmentErr != nil {
		return m.saveAssignmentErr
	}
	if a.Prior != nil {
		if err := m.UpdateIfUnchanged(ctx, a.Prior, a.PriorExpectedStatus); err != nil {
			return err
		}
	}
	if err := m.reports.UpdateIfUnchanged(ctx, a.Report, a.ReportExpectedStatus, a.ReportExpectedUpdatedAt); err != nil {
		return err
	}
	return m.Save(ctx, a.Record)
}

func (m *memoryDispatchRepo) FindByID(ctx context.Context, id types.ID) (*Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, apperrors.NotFound("dispatch", id.String())
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryDispatchRepo) FindActiveByReport(ctx context.Context, reportID types.ID) (*Record, error) {
	for _, rec := range m.records {
		if rec.ReportID == reportID && rec.Active {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("dispatch", reportID.String())
}

func (m *memoryDispatchRepo) UpdateIfUnchanged(ctx context.Context, rec *Record, expectedStatus Status) error {
	stored, ok := m.records[rec.ID]
	if !ok {
		return apperrors.NotFound("dispatch", rec.ID.String())
	}
	if stored.Status != expectedStatus {
		return apperrors.Conflict("dispatch record was modified concurrently")
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memoryDispatchRepo) ListByReport(ctx context.Context, reportID types.ID) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		if rec.ReportID == reportID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memoryDispatchRepo) ListByResponder(ctx context.Context, responderID types.ID) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		if rec.ResponderID == responderID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type trackerFixture struct {
	tracker    *Tracker
	reports    *memoryReportRepo
	dispatches *memoryDispatchRepo
	controller authz.PrincipalRef
	responder  authz.PrincipalRef
	companyID  types.ID
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	companyID := types.NewID()
	reports := newMemoryReportRepo()
	dispatches := newMemoryDispatchRepo(reports)
	policy := authz.NewEvaluator(false, logging.Nop())
	tracker := NewTracker(dispatches, reports, policy, events.NopBus{}, logging.Nop())

	return &trackerFixture{
		tracker:    tracker,
		reports:    reports,
		dispatches: dispatches,
		controller: authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleController, CompanyID: companyID, Status: authz.StatusActive},
		responder:  authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleController, CompanyID: companyID, Status: authz.StatusActive},
		companyID:  companyID,
	}
}

func (f *trackerFixture) newStoredReport(t *testing.T, status reportdomain.ReportStatus) *reportdomain.Report {
	t.Helper()

	r, err := reportdomain.NewReport(reportdomain.ReportKindVehicle, reportdomain.SeverityHigh,
		"Stolen car", "", types.Location{}, types.NewID())
	if err != nil {
		t.Fatalf("Failed to create report: %v", err)
	}
	// Walk the lifecycle to the requested starting status.
	path := map[reportdomain.ReportStatus][]reportdomain.ReportStatus{
		reportdomain.ReportStatusPending:  {},
		reportdomain.ReportStatusActive:   {reportdomain.ReportStatusActive},
		reportdomain.ReportStatusResolved: {reportdomain.ReportStatusActive, reportdomain.ReportStatusResolved},
	}
	for _, s := range path[status] {
		if err := r.Transition(s, types.NewID()); err != nil {
			t.Fatalf("Setup transition to %s failed: %v", s, err)
		}
	}
	r.GetDomainEvents()
	if err := f.reports.Save(context.Background(), r); err != nil {
		t.Fatalf("Failed to store report: %v", err)
	}
	return r
}

// TestAssign tests dispatching a report to a responder
func TestAssign(t *testing.T) {
	ctx := context.Background()

	t.Run("pending report is activated and dispatched", func(t *testing.T) {
		f := newTrackerFixture(t)
		r := f.newStoredReport(t, reportdomain.ReportStatusPending)

		rec, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityHigh, "unit 7", f.controller)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if rec.Status != StatusPending {
			t.Errorf("Expected dispatch status %s, got %s", StatusPending, rec.Status)
		}
		if rec.Priority != PriorityHigh {
			t.Errorf("Expected priority %s, got %s", PriorityHigh, rec.Priority)
		}

		stored, _ := f.reports.FindByID(ctx, r.ID)
		if stored.Status != reportdomain.ReportStatusDispatched {
			t.Errorf("Expected report status %s, got %s", reportdomain.ReportStatusDispatched, stored.Status)
		}
		if stored.CompanyID != f.companyID {
			t.Errorf("Expected report company %s, got %s", f.companyID, stored.CompanyID)
		}
		if stored.AssignedResponderID != f.responder.ID {
			t.Errorf("Expected responder %s, got %s", f.responder.ID, stored.AssignedResponderID)
		}
	})

	t.Run("second assign is rejected", func(t *testing.T) {
		f := newTrackerFixture(t)
		r := f.newStoredReport(t, reportdomain.ReportStatusActive)

		if _, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", f.controller); err != nil {
			t.Fatalf("First assign failed: %v", err)
		}

		_, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", f.controller)
		if apperrors.CodeOf(err) != apperrors.CodeAlreadyDispatched {
			t.Errorf("Expected %s, got %v", apperrors.CodeAlreadyDispatched, err)
		}
	})

	t.Run("closed report is rejected", func(t *testing.T) {
		f := newTrackerFixture(t)
		r := f.newStoredReport(t, reportdomain.ReportStatusResolved)

		_, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityLow, "", f.controller)
		if apperrors.CodeOf(err) != apperrors.CodeReportClosed {
			t.Errorf("Expected %s, got %v", apperrors.CodeReportClosed, err)
		}
	})

	t.Run("cross company actor is denied", func(t *testing.T) {
		f := newTrackerFixture(t)
		r := f.newStoredReport(t, reportdomain.ReportStatusActive)
		if _, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", f.controller); err != nil {
			t.Fatalf("First assign failed: %v", err)
		}

		outsider := authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleModerator, CompanyID: types.NewID(), Status: authz.StatusActive}
		_, err := f.tracker.Reassign(ctx, r.ID, f.responder, PriorityMedium, "", outsider)
		if apperrors.CodeOf(err) != apperrors.CodeCrossCompany {
			t.Errorf("Expected %s, got %v", apperrors.CodeCrossCompany, err)
		}
	})

	t.Run("user actor is denied", func(t *testing.T) {
		f := newTrackerFixture(t)
		r := f.newStoredReport(t, reportdomain.ReportStatusActive)

		user := authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleUser, CompanyID: f.companyID, Status: authz.StatusActive}
		_, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", user)
		if apperrors.CodeOf(err) != apperrors.CodeInsufficientRank {
			t.Errorf("Expected %s, got %v", apperrors.CodeInsufficientRank, err)
		}
	})

	t.Run("unknown report", func(t *testing.T) {
		f := newTrackerFixture(t)

		_, err := f.tracker.Assign(ctx, types.NewID(), f.responder, PriorityMedium, "", f.controller)
		if apperrors.CodeOf(err) != apperrors.CodeNotFound {
			t.Errorf("Expected %s, got %v", apperrors.CodeNotFound, err)
		}
	})
}

// TestReassign tests superseding the active dispatch record
func TestReassign(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	r := f.newStoredReport(t, reportdomain.ReportStatusActive)

	first, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", f.controller)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	// Reassignment to a responder from a different company is the one
	// operation allowed to change the report's company.
	otherCompany := types.NewID()
	admin := authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleGlobalAdmin, Status: authz.StatusActive}
	newResponder := authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleController, CompanyID: otherCompany, Status: authz.StatusActive}

	second, err := f.tracker.Reassign(ctx, r.ID, newResponder, PriorityCritical, "escalated", admin)
	if err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}

	prior, _ := f.dispatches.FindByID(ctx, first.ID)
	if !prior.IsCompleted() || prior.Active {
		t.Errorf("Expected prior record completed and inactive, got status=%s active=%v", prior.Status, prior.Active)
	}

	if second.ResponderID != newResponder.ID {
		t.Errorf("Expected new responder %s, got %s", newResponder.ID, second.ResponderID)
	}

	stored, _ := f.reports.FindByID(ctx, r.ID)
	if stored.CompanyID != otherCompany {
		t.Errorf("Expected report company %s after reassign, got %s", otherCompany, stored.CompanyID)
	}

	active, err := f.dispatches.FindActiveByReport(ctx, r.ID)
	if err != nil {
		t.Fatalf("Expected an active record, got %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("Expected active record %s, got %s", second.ID, active.ID)
	}
}

// TestUpdateStatus tests the dispatch record's linear progression
func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*trackerFixture, *Record, *reportdomain.Report) {
		f := newTrackerFixture(t)
		r := f.newStoredReport(t, reportdomain.ReportStatusActive)
		rec, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityHigh, "", f.controller)
		if err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		return f, rec, r
	}

	t.Run("full forward progression", func(t *testing.T) {
		f, rec, r := setup(t)

		for _, s := range []Status{StatusDispatched, StatusEnRoute, StatusOnScene, StatusCompleted} {
			updated, err := f.tracker.UpdateStatus(ctx, rec.ID, s, f.controller)
			if err != nil {
				t.Fatalf("UpdateStatus to %s failed: %v", s, err)
			}
			if updated.Status != s {
				t.Errorf("Expected status %s, got %s", s, updated.Status)
			}
		}

		stored, _ := f.dispatches.FindByID(ctx, rec.ID)
		if stored.Active {
			t.Error("Expected completed record to be inactive")
		}

		// Completion leaves the report open; on_scene was the last mirror.
		report, _ := f.reports.FindByID(ctx, r.ID)
		if report.Status != reportdomain.ReportStatusOnScene {
			t.Errorf("Expected report status %s, got %s", reportdomain.ReportStatusOnScene, report.Status)
		}
	})

	t.Run("skipping a step is rejected", func(t *testing.T) {
		f, rec, _ := setup(t)

		_, err := f.tracker.UpdateStatus(ctx, rec.ID, StatusOnScene, f.controller)
		if apperrors.CodeOf(err) != apperrors.CodeInvalidTransition {
			t.Errorf("Expected %s, got %v", apperrors.CodeInvalidTransition, err)
		}
	})

	t.Run("reverse is rejected", func(t *testing.T) {
		f, rec, _ := setup(t)

		if _, err := f.tracker.UpdateStatus(ctx, rec.ID, StatusDispatched, f.controller); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		_, err := f.tracker.UpdateStatus(ctx, rec.ID, StatusPending, f.controller)
		if apperrors.CodeOf(err) != apperrors.CodeInvalidTransition {
			t.Errorf("Expected %s, got %v", apperrors.CodeInvalidTransition, err)
		}
	})

	t.Run("current status is a no-op success", func(t *testing.T) {
		f, rec, _ := setup(t)

		updated, err := f.tracker.UpdateStatus(ctx, rec.ID, StatusPending, f.controller)
		if err != nil {
			t.Fatalf("Expected no-op success, got %v", err)
		}
		if updated.Status != StatusPending {
			t.Errorf("Expected status %s, got %s", StatusPending, updated.Status)
		}
	})

	t.Run("en route mirrors onto the report", func(t *testing.T) {
		f, rec, r := setup(t)

		if _, err := f.tracker.UpdateStatus(ctx, rec.ID, StatusDispatched, f.controller); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		if _, err := f.tracker.UpdateStatus(ctx, rec.ID, StatusEnRoute, f.controller); err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}

		report, _ := f.reports.FindByID(ctx, r.ID)
		if report.Status != reportdomain.ReportStatusEnRoute {
			t.Errorf("Expected report status %s, got %s", reportdomain.ReportStatusEnRoute, report.Status)
		}
	})
}

// TestAssignStorageFailure tests that a failed assignment write leaves
// no partial state behind
func TestAssignStorageFailure(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	r := f.newStoredReport(t, reportdomain.ReportStatusActive)

	f.dispatches.saveAssignmentErr = apperrors.Wrap(context.DeadlineExceeded, "failed to save dispatch record")

	_, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityHigh, "", f.controller)
	if err == nil {
		t.Fatal("Expected assign to fail")
	}

	stored, _ := f.reports.FindByID(ctx, r.ID)
	if stored.Status != reportdomain.ReportStatusActive {
		t.Errorf("Expected report status unchanged at %s, got %s", reportdomain.ReportStatusActive, stored.Status)
	}
	if !stored.AssignedResponderID.IsZero() {
		t.Errorf("Expected no responder on the report, got %s", stored.AssignedResponderID)
	}

	records, _ := f.dispatches.ListByReport(ctx, r.ID)
	if len(records) != 0 {
		t.Errorf("Expected no dispatch records, got %d", len(records))
	}
}

// TestReassignStorageFailure tests that a failed reassignment write keeps
// the prior record active
func TestReassignStorageFailure(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	r := f.newStoredReport(t, reportdomain.ReportStatusActive)

	first, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", f.controller)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	f.dispatches.saveAssignmentErr = apperrors.Wrap(context.DeadlineExceeded, "failed to save dispatch record")

	newResponder := authz.PrincipalRef{ID: types.NewID(), Role: authz.RoleController, CompanyID: f.companyID, Status: authz.StatusActive}
	if _, err := f.tracker.Reassign(ctx, r.ID, newResponder, PriorityHigh, "", f.controller); err == nil {
		t.Fatal("Expected reassign to fail")
	}

	active, err := f.dispatches.FindActiveByReport(ctx, r.ID)
	if err != nil {
		t.Fatalf("Expected the prior record to stay active, got %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("Expected active record %s, got %s", first.ID, active.ID)
	}

	stored, _ := f.reports.FindByID(ctx, r.ID)
	if stored.AssignedResponderID != f.responder.ID {
		t.Errorf("Expected responder unchanged at %s, got %s", f.responder.ID, stored.AssignedResponderID)
	}
}

// TestAssignConflict tests the lost-update race on the report row
func TestAssignConflict(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	r := f.newStoredReport(t, reportdomain.ReportStatusActive)

	// A concurrent transition lands between this request's read and write.
	stale, _ := f.reports.FindByID(ctx, r.ID)
	if err := stale.Transition(reportdomain.ReportStatusResolved, types.NewID()); err != nil {
		t.Fatalf("Setup transition failed: %v", err)
	}
	if err := f.reports.Update(ctx, stale); err != nil {
		t.Fatalf("Setup update failed: %v", err)
	}

	// The tracker re-reads, so simulate the race at the repo layer by
	// pre-completing the report: assign must now observe it closed.
	_, err := f.tracker.Assign(ctx, r.ID, f.responder, PriorityMedium, "", f.controller)
	if apperrors.CodeOf(err) != apperrors.CodeReportClosed {
		t.Errorf("Expected %s, got %v", apperrors.CodeReportClosed, err)
	}
}
