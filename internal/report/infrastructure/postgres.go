package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safecity/platform/internal/report/domain"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const reportColumns = `id, report_number, kind, severity, status, title, description,
	location, reporter_id, company_id, assigned_responder_id, timeline, created_at, updated_at`

// Save saves a new report
func (r *PostgresRepository) Save(ctx context.Context, rep *domain.Report) error {
	locationJSON, err := json.Marshal(rep.Location)
	if err != nil {
		return errors.Wrap(err, "failed to marshal location")
	}
	timelineJSON, err := json.Marshal(rep.Timeline)
	if err != nil {
		return errors.Wrap(err, "failed to marshal timeline")
	}

	query := `
		INSERT INTO reports (
			id, report_number, kind, severity, status, title, description,
			location, reporter_id, company_id, assigned_responder_id, timeline, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err = r.pool.Exec(ctx, query,
		rep.ID, rep.ReportNumber, rep.Kind, rep.Severity, rep.Status, rep.Title, rep.Description,
		locationJSON, rep.ReporterID, rep.CompanyID, rep.AssignedResponderID, timelineJSON, rep.CreatedAt, rep.UpdatedAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("report with this number already exists")
		}
		return errors.Wrap(err, "failed to save report")
	}

	return nil
}

// FindByID finds a report by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	rep, err := r.scanReport(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("report", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find report")
	}

	return rep, nil
}

// FindByReportNumber finds a report by its public number
func (r *PostgresRepository) FindByReportNumber(ctx context.Context, reportNumber string) (*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE report_number = $1`

	rep, err := r.scanReport(r.pool.QueryRow(ctx, query, reportNumber))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("report", reportNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find report")
	}

	return rep, nil
}

// Update persists the report unconditionally
func (r *PostgresRepository) Update(ctx context.Context, rep *domain.Report) error {
	locationJSON, err := json.Marshal(rep.Location)
	if err != nil {
		return errors.Wrap(err, "failed to marshal location")
	}
	timelineJSON, err := json.Marshal(rep.Timeline)
	if err != nil {
		return errors.Wrap(err, "failed to marshal timeline")
	}

	query := `
		UPDATE reports
		SET severity = $2, status = $3, title = $4, description = $5,
			location = $6, company_id = $7, assigned_responder_id = $8, timeline = $9, updated_at = $10
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		rep.ID, rep.Severity, rep.Status, rep.Title, rep.Description,
		locationJSON, rep.CompanyID, rep.AssignedResponderID, timelineJSON, rep.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update report")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("report", rep.ID.String())
	}

	return nil
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpdateIfUnchanged persists the report only if the stored row still
// carries the expected status and updated_at. Zero rows affected means
// a concurrent transition won the race.
func (r *PostgresRepository) UpdateIfUnchanged(ctx context.Context, rep *domain.Report, expectedStatus domain.ReportStatus, expectedUpdatedAt time.Time) error {
	return r.updateIfUnchanged(ctx, r.pool, rep, expectedStatus, expectedUpdatedAt)
}

// UpdateIfUnchangedTx is UpdateIfUnchanged running on an open transaction,
// for writes that must land together with rows owned by other repositories.
func (r *PostgresRepository) UpdateIfUnchangedTx(ctx context.Context, tx pgx.Tx, rep *domain.Report, expectedStatus domain.ReportStatus, expectedUpdatedAt time.Time) error {
	return r.updateIfUnchanged(ctx, tx, rep, expectedStatus, expectedUpdatedAt)
}

func (r *PostgresRepository) updateIfUnchanged(ctx context.Context, db querier, rep *domain.Report, expectedStatus domain.ReportStatus, expectedUpdatedAt time.Time) error {
	locationJSON, err := json.Marshal(rep.Location)
	if err != nil {
		return errors.Wrap(err, "failed to marshal location")
	}
	timelineJSON, err := json.Marshal(rep.Timeline)
	if err != nil {
		return errors.Wrap(err, "failed to marshal timeline")
	}

	query := `
		UPDATE reports
		SET severity = $2, status = $3, title = $4, description = $5,
			location = $6, company_id = $7, assigned_responder_id = $8, timeline = $9, updated_at = $10
		WHERE id = $1 AND status = $11 AND updated_at = $12`

	result, err := db.Exec(ctx, query,
		rep.ID, rep.Severity, rep.Status, rep.Title, rep.Description,
		locationJSON, rep.CompanyID, rep.AssignedResponderID, timelineJSON, rep.UpdatedAt,
		expectedStatus, expectedUpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update report")
	}
	if result.RowsAffected() == 0 {
		// Either the report is gone or another transition got there first.
		var exists bool
		checkErr := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE id = $1)`, rep.ID).Scan(&exists)
		if checkErr == nil && !exists {
			return errors.NotFound("report", rep.ID.String())
		}
		return errors.Conflict("report was modified concurrently")
	}

	return nil
}

// List lists reports matching the filter
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Report, int, error) {
	return r.list(ctx, "", nil, filter)
}

// FindByReporter lists reports filed by a principal
func (r *PostgresRepository) FindByReporter(ctx context.Context, reporterID types.ID, filter domain.ListFilter) ([]domain.Report, int, error) {
	return r.list(ctx, "reporter_id = $%d", reporterID, filter)
}

// FindByCompany lists reports scoped to a company
func (r *PostgresRepository) FindByCompany(ctx context.Context, companyID types.ID, filter domain.ListFilter) ([]domain.Report, int, error) {
	return r.list(ctx, "company_id = $%d", companyID, filter)
}

func (r *PostgresRepository) list(ctx context.Context, ownerClause string, ownerID any, filter domain.ListFilter) ([]domain.Report, int, error) {
	var conditions []string
	var args []any

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if ownerClause != "" {
		addCondition(ownerClause, ownerID)
	}
	if filter.Kind != nil {
		addCondition("kind = $%d", *filter.Kind)
	}
	if filter.Status != nil {
		addCondition("status = $%d", *filter.Status)
	}
	if filter.Severity != nil {
		addCondition("severity = $%d", *filter.Severity)
	}
	if filter.Search != "" {
		args = append(args, filter.Search)
		conditions = append(conditions, fmt.Sprintf(
			"(title ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')",
			len(args), len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM reports` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count reports")
	}

	orderBy := "created_at"
	switch filter.OrderBy {
	case "updated_at", "severity", "status":
		orderBy = filter.OrderBy
	}
	direction := "ASC"
	if filter.OrderDesc {
		direction = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := fmt.Sprintf(
		`SELECT %s FROM reports%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		reportColumns, where, orderBy, direction, limit, filter.Offset,
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list reports")
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan report")
		}
		reports = append(reports, *rep)
	}

	return reports, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanReport(row rowScanner) (*domain.Report, error) {
	rep := &domain.Report{}
	var locationJSON, timelineJSON []byte

	err := row.Scan(
		&rep.ID, &rep.ReportNumber, &rep.Kind, &rep.Severity, &rep.Status,
		&rep.Title, &rep.Description,
		&locationJSON, &rep.ReporterID, &rep.CompanyID, &rep.AssignedResponderID, &timelineJSON,
		&rep.CreatedAt, &rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(locationJSON, &rep.Location); err != nil {
		rep.Location = types.Location{}
	}
	if err := json.Unmarshal(timelineJSON, &rep.Timeline); err != nil {
		rep.Timeline = nil
	}

	return rep, nil
}
