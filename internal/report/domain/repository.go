package domain

import (
	"context"
	"time"

	"github.com/safecity/platform/internal/shared/types"
)

// Repository defines the interface for report persistence
type Repository interface {
	Save(ctx context.Context, r *Report) error
	FindByID(ctx context.Context, id types.ID) (*Report, error)
	FindByReportNumber(ctx context.Context, reportNumber string) (*Report, error)

	// Update persists the report unconditionally.
	Update(ctx context.Context, r *Report) error

	// UpdateIfUnchanged persists the report only if the stored row still
	// carries the given status and updatedAt. A concurrent transition
	// that won the race leaves zero rows affected, surfaced as Conflict.
	UpdateIfUnchanged(ctx context.Context, r *Report, expectedStatus ReportStatus, expectedUpdatedAt time.Time) error

	// Query operations
	List(ctx context.Context, filter ListFilter) ([]Report, int, error)
	FindByReporter(ctx context.Context, reporterID types.ID, filter ListFilter) ([]Report, int, error)
	FindByCompany(ctx context.Context, companyID types.ID, filter ListFilter) ([]Report, int, error)
}

// ListFilter defines filters for listing reports
type ListFilter struct {
	Kind      *ReportKind   `json:"kind,omitempty"`
	Status    *ReportStatus `json:"status,omitempty"`
	Severity  *Severity     `json:"severity,omitempty"`
	Search    string        `json:"search,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Offset    int           `json:"offset,omitempty"`
	OrderBy   string        `json:"order_by,omitempty"`
	OrderDesc bool          `json:"order_desc,omitempty"`
}
