package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	reportdomain "github.com/safecity/platform/internal/report/domain"
	reportinfra "github.com/safecity/platform/internal/report/infrastructure"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// Assignment bundles the rows a dispatch assignment writes together: the
// new record, the report row it claims, and on reassignment the prior
// active record being superseded.
type Assignment struct {
	Record *Record

	Prior               *Record
	PriorExpectedStatus Status

	Report                  *reportdomain.Report
	ReportExpectedStatus    reportdomain.ReportStatus
	ReportExpectedUpdatedAt time.Time
}

// Repository defines the interface for dispatch record persistence
type Repository interface {
	Save(ctx context.Context, rec *Record) error
	FindByID(ctx context.Context, id types.ID) (*Record, error)

	// FindActiveByReport returns the report's single active dispatch
	// record, or NotFound when none exists.
	FindActiveByReport(ctx context.Context, reportID types.ID) (*Record, error)

	// SaveAssignment persists an assignment's rows in one transaction.
	// Either every row lands or none does.
	SaveAssignment(ctx context.Context, a Assignment) error

	// UpdateIfUnchanged persists the record only if the stored row still
	// carries the expected status. Zero rows affected is a Conflict.
	UpdateIfUnchanged(ctx context.Context, rec *Record, expectedStatus Status) error

	ListByReport(ctx context.Context, reportID types.ID) ([]Record, error)
	ListByResponder(ctx context.Context, responderID types.ID) ([]Record, error)
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool    *pgxpool.Pool
	reports *reportinfra.PostgresRepository
}

// NewPostgresRepository creates a new PostgreSQL repository. The report
// repository is needed because assignments update the report row in the
// same transaction.
func NewPostgresRepository(pool *pgxpool.Pool, reports *reportinfra.PostgresRepository) *PostgresRepository {
	return &PostgresRepository{pool: pool, reports: reports}
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const dispatchColumns = `id, report_id, company_id, responder_id, assigned_by,
	priority, status, notes, active, created_at, updated_at`

// Save saves a new dispatch record
func (r *PostgresRepository) Save(ctx context.Context, rec *Record) error {
	return r.save(ctx, r.pool, rec)
}

func (r *PostgresRepository) save(ctx context.Context, db querier, rec *Record) error {
	query := `
		INSERT INTO dispatches (
			id, report_id, company_id, responder_id, assigned_by,
			priority, status, notes, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := db.Exec(ctx, query,
		rec.ID, rec.ReportID, rec.CompanyID, rec.ResponderID, rec.AssignedBy,
		rec.Priority, rec.Status, rec.Notes, rec.Active, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on (report_id) WHERE active backs up
		// the one-active-dispatch invariant under concurrent assigns.
		if isUniqueViolation(err) {
			return errors.AlreadyDispatched(rec.ReportID.String())
		}
		return errors.Wrap(err, "failed to save dispatch record")
	}

	return nil
}

// SaveAssignment persists the assignment in a single transaction so the
// report can never end up dispatched without a matching dispatch record.
func (r *PostgresRepository) SaveAssignment(ctx context.Context, a Assignment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if a.Prior != nil {
		if err := r.updateIfUnchanged(ctx, tx, a.Prior, a.PriorExpectedStatus); err != nil {
			return err
		}
	}
	if err := r.reports.UpdateIfUnchangedTx(ctx, tx, a.Report, a.ReportExpectedStatus, a.ReportExpectedUpdatedAt); err != nil {
		return err
	}
	if err := r.save(ctx, tx, a.Record); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// FindByID finds a dispatch record by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Record, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("dispatch", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find dispatch record")
	}

	return rec, nil
}

// FindActiveByReport finds the active dispatch record for a report
func (r *PostgresRepository) FindActiveByReport(ctx context.Context, reportID types.ID) (*Record, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE report_id = $1 AND active`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, reportID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("dispatch", reportID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active dispatch record")
	}

	return rec, nil
}

// UpdateIfUnchanged persists the record with an optimistic-concurrency check
func (r *PostgresRepository) UpdateIfUnchanged(ctx context.Context, rec *Record, expectedStatus Status) error {
	return r.updateIfUnchanged(ctx, r.pool, rec, expectedStatus)
}

func (r *PostgresRepository) updateIfUnchanged(ctx context.Context, db querier, rec *Record, expectedStatus Status) error {
	query := `
		UPDATE dispatches
		SET status = $2, notes = $3, active = $4, updated_at = $5
		WHERE id = $1 AND status = $6`

	result, err := db.Exec(ctx, query,
		rec.ID, rec.Status, rec.Notes, rec.Active, rec.UpdatedAt, expectedStatus,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update dispatch record")
	}
	if result.RowsAffected() == 0 {
		var exists bool
		checkErr := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM dispatches WHERE id = $1)`, rec.ID).Scan(&exists)
		if checkErr == nil && !exists {
			return errors.NotFound("dispatch", rec.ID.String())
		}
		return errors.Conflict("dispatch record was modified concurrently")
	}

	return nil
}

// ListByReport lists all dispatch records for a report, newest first
func (r *PostgresRepository) ListByReport(ctx context.Context, reportID types.ID) ([]Record, error) {
	return r.list(ctx, `report_id = $1`, reportID)
}

// ListByResponder lists all dispatch records assigned to a responder
func (r *PostgresRepository) ListByResponder(ctx context.Context, responderID types.ID) ([]Record, error) {
	return r.list(ctx, `responder_id = $1`, responderID)
}

func (r *PostgresRepository) list(ctx context.Context, clause string, arg any) ([]Record, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE ` + clause + ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dispatch records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan dispatch record")
		}
		records = append(records, *rec)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	err := row.Scan(
		&rec.ID, &rec.ReportID, &rec.CompanyID, &rec.ResponderID, &rec.AssignedBy,
		&rec.Priority, &rec.Status, &rec.Notes, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// 23505 is the PostgreSQL unique_violation code.
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}
