package domain

import (
	"fmt"
	"time"

	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// ReportKind defines the kind of report
type ReportKind string

const (
	ReportKindVehicle ReportKind = "vehicle"
	ReportKindCrime   ReportKind = "crime"
)

// ParseReportKind validates a report kind literal
func ParseReportKind(s string) (ReportKind, error) {
	switch ReportKind(s) {
	case ReportKindVehicle, ReportKindCrime:
		return ReportKind(s), nil
	}
	return "", apperrors.Validation("unknown report kind", map[string]string{"kind": s})
}

// Severity defines report severity
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity literal
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", apperrors.Validation("unknown severity", map[string]string{"severity": s})
}

// ReportStatus defines the status of a report
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusActive     ReportStatus = "active"
	ReportStatusDispatched ReportStatus = "dispatched"
	ReportStatusEnRoute    ReportStatus = "en_route"
	ReportStatusOnScene    ReportStatus = "on_scene"
	ReportStatusResolved   ReportStatus = "resolved"
	ReportStatusRecovered  ReportStatus = "recovered"
	ReportStatusRejected   ReportStatus = "rejected"
)

// ParseReportStatus validates a report status literal
func ParseReportStatus(s string) (ReportStatus, error) {
	switch ReportStatus(s) {
	case ReportStatusPending, ReportStatusActive, ReportStatusDispatched,
		ReportStatusEnRoute, ReportStatusOnScene, ReportStatusResolved,
		ReportStatusRecovered, ReportStatusRejected:
		return ReportStatus(s), nil
	}
	return "", apperrors.Validation("unknown report status", map[string]string{"status": s})
}

// allowedTransitions is the report lifecycle graph. Terminal statuses
// accept no further transitions.
var allowedTransitions = map[ReportStatus][]ReportStatus{
	ReportStatusPending:    {ReportStatusActive, ReportStatusRejected},
	ReportStatusActive:     {ReportStatusDispatched, ReportStatusResolved, ReportStatusRejected},
	ReportStatusDispatched: {ReportStatusEnRoute, ReportStatusResolved},
	ReportStatusEnRoute:    {ReportStatusOnScene, ReportStatusResolved},
	ReportStatusOnScene:    {ReportStatusResolved, ReportStatusRecovered},
	ReportStatusResolved:   {},
	ReportStatusRecovered:  {},
	ReportStatusRejected:   {},
}

// CanTransition reports whether the edge (from, to) is in the lifecycle graph.
func CanTransition(from, to ReportStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether the status accepts no further transitions.
func IsTerminalStatus(s ReportStatus) bool {
	return len(allowedTransitions[s]) == 0 && s != ""
}

// Report is the aggregate root for citizen-filed incident reports
type Report struct {
	ID           types.ID       `json:"id"`
	ReportNumber string         `json:"report_number"`
	Kind         ReportKind     `json:"kind"`
	Severity     Severity       `json:"severity"`
	Status       ReportStatus   `json:"status"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Location     types.Location `json:"location"`

	// Ownership
	ReporterID types.ID `json:"reporter_id"`

	// CompanyID is set when a responder is first dispatched and is
	// immutable afterwards. Zero means community-wide, unscoped.
	CompanyID           types.ID `json:"company_id,omitempty"`
	AssignedResponderID types.ID `json:"assigned_responder_id,omitempty"`

	Timeline []ReportEvent `json:"timeline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Domain events (not persisted, collected for publishing)
	domainEvents []Event
}

// NewReport creates a new report with validation
func NewReport(
	kind ReportKind,
	severity Severity,
	title, description string,
	location types.Location,
	reporterID types.ID,
) (*Report, error) {
	if title == "" {
		return nil, apperrors.Validation("title is required", nil)
	}
	if reporterID.IsZero() {
		return nil, apperrors.Validation("reporter is required", nil)
	}
	if _, err := ParseReportKind(string(kind)); err != nil {
		return nil, err
	}
	if _, err := ParseSeverity(string(severity)); err != nil {
		return nil, err
	}

	now := time.Now()
	r := &Report{
		ID:           types.NewID(),
		ReportNumber: generateReportNumber(kind),
		Kind:         kind,
		Severity:     severity,
		Status:       ReportStatusPending,
		Title:        title,
		Description:  description,
		Location:     location,
		ReporterID:   reporterID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.addEvent(ReportEventTypeCreated, reporterID, "Report filed", nil)

	return r, nil
}

// Transition moves the report to targetStatus. Re-requesting the current
// status is a no-op success. An edge outside the lifecycle graph is
// rejected.
func (r *Report) Transition(targetStatus ReportStatus, actorID types.ID) error {
	if _, err := ParseReportStatus(string(targetStatus)); err != nil {
		return err
	}

	// Idempotent: already there.
	if r.Status == targetStatus {
		return nil
	}

	if !CanTransition(r.Status, targetStatus) {
		return apperrors.InvalidTransition(string(r.Status), string(targetStatus))
	}

	oldStatus := r.Status
	r.Status = targetStatus
	r.UpdatedAt = time.Now()

	r.addEvent(ReportEventTypeStatusChanged, actorID,
		fmt.Sprintf("Status changed from %s to %s", oldStatus, targetStatus),
		map[string]any{
			"old_status": oldStatus,
			"new_status": targetStatus,
		})

	return nil
}

// AssignResponder records the dispatch assignment on the report. The
// company is set on first assignment and immutable afterwards;
// reassignment to a different company must go through the explicit
// reassign operation, which supersedes the dispatch record first.
func (r *Report) AssignResponder(responderID, responderCompanyID, actorID types.ID) error {
	if !r.CompanyID.IsZero() && !responderCompanyID.IsZero() && r.CompanyID != responderCompanyID {
		return apperrors.Conflict("report is already scoped to another company")
	}

	r.AssignedResponderID = responderID
	if r.CompanyID.IsZero() {
		r.CompanyID = responderCompanyID
	}
	r.UpdatedAt = time.Now()

	r.addEvent(ReportEventTypeAssigned, actorID, "Responder assigned", map[string]any{
		"responder_id": responderID,
		"company_id":   responderCompanyID,
	})

	return nil
}

// ReassignResponder moves the report to a new responder, allowing an
// explicit company change. Only the dispatch reassign operation, which
// supersedes the prior dispatch record first, may call this.
func (r *Report) ReassignResponder(responderID, responderCompanyID, actorID types.ID) {
	oldCompany := r.CompanyID
	r.AssignedResponderID = responderID
	r.CompanyID = responderCompanyID
	r.UpdatedAt = time.Now()

	r.addEvent(ReportEventTypeAssigned, actorID, "Responder reassigned", map[string]any{
		"responder_id": responderID,
		"old_company":  oldCompany,
		"company_id":   responderCompanyID,
	})
}

// IsTerminal reports whether the report accepts no further transitions.
func (r *Report) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// GetDomainEvents returns and clears domain events
func (r *Report) GetDomainEvents() []Event {
	events := r.domainEvents
	r.domainEvents = nil
	return events
}

// addEvent adds a timeline entry and queues a domain event
func (r *Report) addEvent(eventType ReportEventType, actorID types.ID, description string, data map[string]any) {
	event := ReportEvent{
		ID:          types.NewID(),
		ReportID:    r.ID,
		Type:        eventType,
		ActorID:     actorID,
		Description: description,
		Data:        data,
		Timestamp:   time.Now(),
	}

	r.Timeline = append(r.Timeline, event)

	r.domainEvents = append(r.domainEvents, Event{
		Type:        string(eventType),
		ReportID:    r.ID,
		ReportEvent: event,
	})
}

// generateReportNumber generates a report number.
// Format: KIND-YEAR-SEQUENCE (e.g., VH-2026-000123)
func generateReportNumber(kind ReportKind) string {
	prefix := map[ReportKind]string{
		ReportKindVehicle: "VH",
		ReportKindCrime:   "CR",
	}

	year := time.Now().Year()
	// In production, this would use a database sequence
	seq := time.Now().UnixNano() % 1000000

	return fmt.Sprintf("%s-%d-%06d", prefix[kind], year, seq)
}
