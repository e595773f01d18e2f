package domain

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// TestNewReport tests creating a new report
func TestNewReport(t *testing.T) {
	reporterID := types.NewID()

	r, err := NewReport(
		ReportKindVehicle,
		SeverityHigh,
		"Stolen sedan",
		"White sedan taken overnight",
		types.Location{Street: "Main St 5", City: "Springfield"},
		reporterID,
	)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if r.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}

	if r.Status != ReportStatusPending {
		t.Errorf("Expected status %s, got %s", ReportStatusPending, r.Status)
	}

	if !strings.HasPrefix(r.ReportNumber, "VH-") {
		t.Errorf("Expected vehicle report number prefix VH-, got %s", r.ReportNumber)
	}

	if !r.CompanyID.IsZero() {
		t.Error("Expected new report to be unscoped")
	}

	// Should have creation event
	if len(r.Timeline) != 1 {
		t.Errorf("Expected 1 timeline event, got %d", len(r.Timeline))
	}

	if r.Timeline[0].Type != ReportEventTypeCreated {
		t.Errorf("Expected event type %s, got %s", ReportEventTypeCreated, r.Timeline[0].Type)
	}
}

// TestNewReportValidation tests validation when creating a report
func TestNewReportValidation(t *testing.T) {
	reporterID := types.NewID()

	tests := []struct {
		name        string
		kind        ReportKind
		severity    Severity
		title       string
		reporterID  types.ID
		expectError bool
	}{
		{"Empty title", ReportKindCrime, SeverityLow, "", reporterID, true},
		{"Zero reporter ID", ReportKindCrime, SeverityLow, "Test", types.ID(""), true},
		{"Unknown kind", ReportKind("theft"), SeverityLow, "Test", reporterID, true},
		{"Unknown severity", ReportKindCrime, Severity("extreme"), "Test", reporterID, true},
		{"Valid report", ReportKindCrime, SeverityLow, "Test", reporterID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReport(tt.kind, tt.severity, tt.title, "", types.Location{}, tt.reporterID)
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

// TestTransitionGraph walks every edge of the lifecycle graph
func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		from    ReportStatus
		to      ReportStatus
		allowed bool
	}{
		{ReportStatusPending, ReportStatusActive, true},
		{ReportStatusPending, ReportStatusRejected, true},
		{ReportStatusPending, ReportStatusDispatched, false},
		{ReportStatusPending, ReportStatusResolved, false},
		{ReportStatusActive, ReportStatusDispatched, true},
		{ReportStatusActive, ReportStatusResolved, true},
		{ReportStatusActive, ReportStatusRejected, true},
		{ReportStatusActive, ReportStatusOnScene, false},
		{ReportStatusDispatched, ReportStatusEnRoute, true},
		{ReportStatusDispatched, ReportStatusResolved, true},
		{ReportStatusDispatched, ReportStatusRejected, false},
		{ReportStatusEnRoute, ReportStatusOnScene, true},
		{ReportStatusEnRoute, ReportStatusResolved, true},
		{ReportStatusEnRoute, ReportStatusDispatched, false},
		{ReportStatusOnScene, ReportStatusResolved, true},
		{ReportStatusOnScene, ReportStatusRecovered, true},
		{ReportStatusOnScene, ReportStatusActive, false},
		{ReportStatusResolved, ReportStatusActive, false},
		{ReportStatusRecovered, ReportStatusResolved, false},
		{ReportStatusRejected, ReportStatusPending, false},
	}

	for _, tt := range tests {
		name := string(tt.from) + "_to_" + string(tt.to)
		t.Run(name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

// TestTransition tests applying transitions to a report
func TestTransition(t *testing.T) {
	actorID := types.NewID()

	newTestReport := func(t *testing.T) *Report {
		t.Helper()
		r, err := NewReport(ReportKindCrime, SeverityMedium, "Break-in", "", types.Location{}, types.NewID())
		if err != nil {
			t.Fatalf("Failed to create report: %v", err)
		}
		return r
	}

	t.Run("legal edge updates status and timeline", func(t *testing.T) {
		r := newTestReport(t)

		if err := r.Transition(ReportStatusActive, actorID); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if r.Status != ReportStatusActive {
			t.Errorf("Expected status %s, got %s", ReportStatusActive, r.Status)
		}
		if len(r.Timeline) != 2 {
			t.Errorf("Expected 2 timeline events, got %d", len(r.Timeline))
		}
	})

	t.Run("re-requesting current status is a no-op success", func(t *testing.T) {
		r := newTestReport(t)

		before := len(r.Timeline)
		if err := r.Transition(ReportStatusPending, actorID); err != nil {
			t.Fatalf("Expected no-op success, got %v", err)
		}
		if len(r.Timeline) != before {
			t.Error("Expected no timeline event for no-op transition")
		}
	})

	t.Run("illegal edge is rejected", func(t *testing.T) {
		r := newTestReport(t)

		err := r.Transition(ReportStatusOnScene, actorID)
		if err == nil {
			t.Fatal("Expected error for pending -> on_scene")
		}
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeInvalidTransition {
			t.Errorf("Expected %s, got %v", apperrors.CodeInvalidTransition, err)
		}
	})

	t.Run("unknown status literal is rejected", func(t *testing.T) {
		r := newTestReport(t)

		err := r.Transition(ReportStatus("archived"), actorID)
		if err == nil {
			t.Fatal("Expected error for unknown status")
		}
		if apperrors.CodeOf(err) != apperrors.CodeValidation {
			t.Errorf("Expected %s, got %v", apperrors.CodeValidation, err)
		}
	})

	t.Run("terminal statuses accept nothing", func(t *testing.T) {
		r := newTestReport(t)
		for _, s := range []ReportStatus{ReportStatusActive, ReportStatusResolved} {
			if err := r.Transition(s, actorID); err != nil {
				t.Fatalf("Setup transition to %s failed: %v", s, err)
			}
		}

		if !r.IsTerminal() {
			t.Error("Expected resolved report to be terminal")
		}
		if err := r.Transition(ReportStatusActive, actorID); err == nil {
			t.Error("Expected error transitioning out of resolved")
		}
	})
}

// TestAssignResponder tests dispatch assignment on the report
func TestAssignResponder(t *testing.T) {
	actorID := types.NewID()
	responderID := types.NewID()
	c1 := types.NewID()
	c2 := types.NewID()

	t.Run("first assignment sets the company", func(t *testing.T) {
		r, _ := NewReport(ReportKindVehicle, SeverityHigh, "Stolen van", "", types.Location{}, types.NewID())

		if err := r.AssignResponder(responderID, c1, actorID); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if r.CompanyID != c1 {
			t.Errorf("Expected company %s, got %s", c1, r.CompanyID)
		}
		if r.AssignedResponderID != responderID {
			t.Errorf("Expected responder %s, got %s", responderID, r.AssignedResponderID)
		}
	})

	t.Run("company is immutable once set", func(t *testing.T) {
		r, _ := NewReport(ReportKindVehicle, SeverityHigh, "Stolen van", "", types.Location{}, types.NewID())
		if err := r.AssignResponder(responderID, c1, actorID); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		err := r.AssignResponder(types.NewID(), c2, actorID)
		if err == nil {
			t.Fatal("Expected error assigning responder from another company")
		}
		if apperrors.CodeOf(err) != apperrors.CodeConflict {
			t.Errorf("Expected %s, got %v", apperrors.CodeConflict, err)
		}
	})

	t.Run("reassignment within the same company is allowed", func(t *testing.T) {
		r, _ := NewReport(ReportKindVehicle, SeverityHigh, "Stolen van", "", types.Location{}, types.NewID())
		if err := r.AssignResponder(responderID, c1, actorID); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		other := types.NewID()
		if err := r.AssignResponder(other, c1, actorID); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if r.AssignedResponderID != other {
			t.Errorf("Expected responder %s, got %s", other, r.AssignedResponderID)
		}
	})
}

// TestGetDomainEvents tests domain event collection
func TestGetDomainEvents(t *testing.T) {
	r, _ := NewReport(ReportKindCrime, SeverityLow, "Vandalism", "", types.Location{}, types.NewID())
	if err := r.Transition(ReportStatusActive, types.NewID()); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	events := r.GetDomainEvents()
	if len(events) != 2 {
		t.Errorf("Expected 2 domain events, got %d", len(events))
	}

	// Events are cleared after retrieval
	if len(r.GetDomainEvents()) != 0 {
		t.Error("Expected domain events to be cleared")
	}
}
