package company

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

const companyColumns = `id, name, registration_number, contact, status, created_at, updated_at`

// Repository provides PostgreSQL persistence for companies
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new company repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create persists a new company
func (r *Repository) Create(ctx context.Context, c *Company) error {
	query := `
		INSERT INTO companies (id, name, registration_number, contact, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.RegistrationNumber, c.Contact, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("company registration number already exists")
		}
		return errors.Wrap(err, "failed to create company")
	}

	return nil
}

// Get fetches a company by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Company, error) {
	query := fmt.Sprintf(`SELECT %s FROM companies WHERE id = $1`, companyColumns)

	var c Company
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.RegistrationNumber, &c.Contact, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("company", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get company")
	}

	return &c, nil
}

// Update persists changes to a company
func (r *Repository) Update(ctx context.Context, c *Company) error {
	query := `
		UPDATE companies
		SET name = $2, registration_number = $3, contact = $4, status = $5, updated_at = $6
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.RegistrationNumber, c.Contact, c.Status, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update company")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("company", c.ID.String())
	}

	return nil
}

// Delete removes a company
func (r *Repository) Delete(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete company")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("company", id.String())
	}

	return nil
}

// ListFilter defines filters for listing companies
type ListFilter struct {
	Status *CompanyStatus
	Search string
	Limit  int
	Offset int
}

// List lists companies matching the filter
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Company, int, error) {
	conditions := []string{"1=1"}
	args := []any{}
	argNum := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR registration_number ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM companies WHERE %s`, where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count companies")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM companies WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		companyColumns, where, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list companies")
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(
			&c.ID, &c.Name, &c.RegistrationNumber, &c.Contact, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan company")
		}
		companies = append(companies, c)
	}

	return companies, total, nil
}
