package principal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// Repository provides database operations for principals
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new principal repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const principalColumns = `id, email, full_name, role, status, company_id, created_at, updated_at`

// Create creates a new principal
func (r *Repository) Create(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO principals (
			id, email, full_name, role, status, company_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Email, p.FullName, p.Role, p.Status, p.CompanyID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("principal with this email already exists")
		}
		return errors.Wrap(err, "failed to create principal")
	}

	return nil
}

// Get retrieves a principal by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`

	p := &Principal{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Email, &p.FullName, &p.Role, &p.Status, &p.CompanyID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("principal", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get principal")
	}

	return p, nil
}

// GetByEmail retrieves a principal by email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE email = $1`

	p := &Principal{}
	err := r.pool.QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&p.ID, &p.Email, &p.FullName, &p.Role, &p.Status, &p.CompanyID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("principal", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get principal")
	}

	return p, nil
}

// Update persists role, status, company, and profile changes
func (r *Repository) Update(ctx context.Context, p *Principal) error {
	query := `
		UPDATE principals
		SET email = $2, full_name = $3, role = $4, status = $5, company_id = $6, updated_at = $7
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		p.ID, p.Email, p.FullName, p.Role, p.Status, p.CompanyID, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update principal")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("principal", p.ID.String())
	}

	return nil
}

// CountByCompany counts principals belonging to a company
func (r *Repository) CountByCompany(ctx context.Context, companyID types.ID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM principals WHERE company_id = $1`, companyID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count principals")
	}
	return count, nil
}

// ListFilter defines filters for listing principals
type ListFilter struct {
	Role      *authz.Role
	Status    *authz.PrincipalStatus
	CompanyID *types.ID
	Search    string
	Limit     int
	Offset    int
}

// List lists principals matching the filter
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Principal, int, error) {
	var conditions []string
	var args []any

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Role != nil {
		addCondition("role = $%d", *filter.Role)
	}
	if filter.Status != nil {
		addCondition("status = $%d", *filter.Status)
	}
	if filter.CompanyID != nil {
		addCondition("company_id = $%d", *filter.CompanyID)
	}
	if filter.Search != "" {
		args = append(args, filter.Search)
		conditions = append(conditions, fmt.Sprintf(
			"(full_name ILIKE '%%' || $%d || '%%' OR email ILIKE '%%' || $%d || '%%')",
			len(args), len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM principals`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count principals")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := fmt.Sprintf(
		`SELECT %s FROM principals%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		principalColumns, where, limit, filter.Offset,
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list principals")
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(
			&p.ID, &p.Email, &p.FullName, &p.Role, &p.Status, &p.CompanyID, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan principal")
		}
		principals = append(principals, p)
	}

	return principals, total, nil
}
