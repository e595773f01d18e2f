package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/metrics"
	"github.com/safecity/platform/internal/shared/types"
)

// Repository provides append-only audit log operations
type Repository struct {
	pool     *pgxpool.Pool
	mu       sync.Mutex
	lastHash string
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, sequence, event_type, actor_id, subject_type, subject_id, payload, prev_hash, hash, recorded_at`

// Initialize loads the last hash from the database
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT hash FROM audit_log
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)

	if err != nil && err != pgx.ErrNoRows {
		return errors.Wrap(err, "failed to get last audit hash")
	}

	r.lastHash = hash
	return nil
}

// Append appends a new audit entry (thread-safe)
func (r *Repository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.PrevHash = r.lastHash
	entry.Hash = entry.calculateHash()

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	query := `
		INSERT INTO audit_log (
			id, event_type, actor_id, subject_type, subject_id, payload, prev_hash, hash, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		) RETURNING sequence`

	err = r.pool.QueryRow(ctx, query,
		entry.ID, entry.EventType, nullableID(entry.ActorID), entry.SubjectType, nullableID(entry.SubjectID),
		payloadJSON, entry.PrevHash, entry.Hash, entry.RecordedAt,
	).Scan(&entry.Sequence)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	metrics.RecordAuditEntry()

	return nil
}

// List lists audit entries with filters
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	addCondition := func(clause string, value any) {
		conditions = append(conditions, fmt.Sprintf(clause, argNum))
		args = append(args, value)
		argNum++
	}

	if filter.EventType != "" {
		addCondition("event_type LIKE $%d", filter.EventType+"%")
	}
	if filter.ActorID != nil {
		addCondition("actor_id = $%d", *filter.ActorID)
	}
	if filter.SubjectType != "" {
		addCondition("subject_type = $%d", filter.SubjectType)
	}
	if filter.SubjectID != nil {
		addCondition("subject_id = $%d", *filter.SubjectID)
	}
	if filter.StartTime != nil {
		addCondition("recorded_at >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		addCondition("recorded_at <= $%d", *filter.EndTime)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM audit_log %s`, whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_log
		%s
		ORDER BY sequence DESC
		LIMIT $%d OFFSET $%d`, entryColumns, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}

	return entries, total, nil
}

// FindByID finds an audit entry by ID
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_log WHERE id = $1`, entryColumns)

	row := r.pool.QueryRow(ctx, query, id)
	e, err := scanEntry(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errors.NotFound("audit entry", id.String())
		}
		return nil, err
	}

	return e, nil
}

// VerifyResult contains chain verification results
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentValid   int      `json:"content_valid"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageValid   int      `json:"linkage_valid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
}

// VerifyChain verifies the integrity of the audit chain. Content
// verification recalculates each hash from the stored entry; linkage
// verification checks that each prev_hash matches the preceding hash.
func (r *Repository) VerifyChain(ctx context.Context, limit int) (*VerifyResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_log
		ORDER BY sequence DESC
		LIMIT $1`, entryColumns)

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	result := &VerifyResult{Valid: true}

	// Entries are in descending order, so prevStoredHash belongs to the
	// entry that follows the current one in time.
	var prevStoredHash string

	for i, e := range entries {
		if !e.VerifyHash() {
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("content tampered: entry %s (seq %d) hash does not match content", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		if i > 0 {
			if prevStoredHash != "" && e.Hash != prevStoredHash {
				result.LinkageInvalid++
				result.Valid = false
				result.Violations = append(result.Violations,
					fmt.Sprintf("chain broken: entry %s (seq %d) hash does not match next entry's prev_hash", e.ID, e.Sequence))
			} else {
				result.LinkageValid++
			}
		}

		prevStoredHash = e.PrevHash
		result.Checked++
	}

	return result, nil
}

// GetBySubject gets audit entries for a specific subject
func (r *Repository) GetBySubject(ctx context.Context, subjectType string, subjectID types.ID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	entries, _, err := r.List(ctx, ListFilter{
		SubjectType: subjectType,
		SubjectID:   &subjectID,
		Limit:       limit,
	})
	return entries, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var actorID, subjectID *types.ID
	var payloadJSON []byte

	err := row.Scan(
		&e.ID, &e.Sequence, &e.EventType, &actorID, &e.SubjectType, &subjectID,
		&payloadJSON, &e.PrevHash, &e.Hash, &e.RecordedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan audit entry")
	}

	if actorID != nil {
		e.ActorID = *actorID
	}
	if subjectID != nil {
		e.SubjectID = *subjectID
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			e.Payload = nil
		}
	}

	return &e, nil
}

func nullableID(id types.ID) *types.ID {
	if id.IsZero() {
		return nil
	}
	return &id
}
