package domain

import (
	"time"

	"github.com/safecity/platform/internal/shared/types"
)

// ReportEventType defines types of report timeline events
type ReportEventType string

const (
	ReportEventTypeCreated       ReportEventType = "created"
	ReportEventTypeStatusChanged ReportEventType = "status_changed"
	ReportEventTypeAssigned      ReportEventType = "assigned"
	ReportEventTypeNoteAdded     ReportEventType = "note_added"
)

// ReportEvent represents an entry in the report timeline
type ReportEvent struct {
	ID          types.ID        `json:"id"`
	ReportID    types.ID        `json:"report_id"`
	Type        ReportEventType `json:"type"`
	ActorID     types.ID        `json:"actor_id"`
	Description string          `json:"description"`
	Data        map[string]any  `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Event is a domain event for publishing
type Event struct {
	Type        string      `json:"type"`
	ReportID    types.ID    `json:"report_id"`
	ReportEvent ReportEvent `json:"report_event"`
}
