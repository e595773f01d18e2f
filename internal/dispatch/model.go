// Package dispatch tracks the assignment of reports to responders and
// the dispatch record's own status progression.
package dispatch

import (
	"time"

	apperrors "github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// Priority defines dispatch priority
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority validates a priority literal
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(s), nil
	}
	return "", apperrors.Validation("unknown priority", map[string]string{"priority": s})
}

// Status defines the status of a dispatch record. Progression is
// strictly linear, single-step forward only.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusEnRoute    Status = "en_route"
	StatusOnScene    Status = "on_scene"
	StatusCompleted  Status = "completed"
)

// ParseStatus validates a dispatch status literal
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusDispatched, StatusEnRoute, StatusOnScene, StatusCompleted:
		return Status(s), nil
	}
	return "", apperrors.Validation("unknown dispatch status", map[string]string{"status": s})
}

// nextStatus is the single legal successor of each status.
var nextStatus = map[Status]Status{
	StatusPending:    StatusDispatched,
	StatusDispatched: StatusEnRoute,
	StatusEnRoute:    StatusOnScene,
	StatusOnScene:    StatusCompleted,
}

// Record represents the operational assignment of a report to a responder
type Record struct {
	ID          types.ID `json:"id"`
	ReportID    types.ID `json:"report_id"`
	CompanyID   types.ID `json:"company_id"`
	ResponderID types.ID `json:"responder_id"`
	AssignedBy  types.ID `json:"assigned_by"`
	Priority    Priority `json:"priority"`
	Status      Status   `json:"status"`
	Notes       string   `json:"notes,omitempty"`

	// Active is false once the record is completed or superseded.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates a new dispatch record in the pending status
func NewRecord(reportID, companyID, responderID, assignedBy types.ID, priority Priority, notes string) (*Record, error) {
	if reportID.IsZero() {
		return nil, apperrors.Validation("report is required", nil)
	}
	if responderID.IsZero() {
		return nil, apperrors.Validation("responder is required", nil)
	}
	if _, err := ParsePriority(string(priority)); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Record{
		ID:          types.NewID(),
		ReportID:    reportID,
		CompanyID:   companyID,
		ResponderID: responderID,
		AssignedBy:  assignedBy,
		Priority:    priority,
		Status:      StatusPending,
		Notes:       notes,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Advance moves the record to targetStatus. Re-requesting the current
// status is a no-op success. Anything but the single forward step is
// rejected.
func (r *Record) Advance(targetStatus Status) error {
	if _, err := ParseStatus(string(targetStatus)); err != nil {
		return err
	}

	// Idempotent: already there.
	if r.Status == targetStatus {
		return nil
	}

	if nextStatus[r.Status] != targetStatus {
		return apperrors.InvalidTransition(string(r.Status), string(targetStatus))
	}

	r.Status = targetStatus
	if targetStatus == StatusCompleted {
		r.Active = false
	}
	r.UpdatedAt = time.Now()

	return nil
}

// Supersede closes the record out-of-band so a new dispatch can replace
// it. Used only by the reassign operation.
func (r *Record) Supersede() {
	r.Status = StatusCompleted
	r.Active = false
	r.UpdatedAt = time.Now()
}

// IsCompleted reports whether the record reached its terminal status.
func (r *Record) IsCompleted() bool {
	return r.Status == StatusCompleted
}
