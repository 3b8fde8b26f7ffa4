package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
)

const auditListLimitMax = 500

// AuditRepository appends to and reads the audit trail. Entries are
// append-only; the schema blocks UPDATE and DELETE at the database level, so
// this repository intentionally exposes no mutation beyond Append.
type AuditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

const auditColumns = `
	id, user_id, action_type, resource_type, resource_id,
	old_values, new_values, metadata, ip_address, user_agent, created_at`

// Append writes one audit entry. Callers pass the same Querier as the state
// change being audited so the entry commits or rolls back with it.
func (r *AuditRepository) Append(ctx context.Context, q database.Querier, entry *AuditLogEntry) error {
	oldJSON, err := marshalValues(entry.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(entry.NewValues)
	if err != nil {
		return err
	}
	metaJSON, err := marshalValues(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs
		    (user_id, action_type, resource_type, resource_id,
		     old_values, new_values, metadata, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err = q.QueryRow(ctx, query,
		entry.UserID,
		entry.ActionType,
		entry.ResourceType,
		entry.ResourceID,
		oldJSON,
		newJSON,
		metaJSON,
		entry.IPAddress,
		entry.UserAgent,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// List returns audit entries newest-first, filtered and bounded.
func (r *AuditRepository) List(ctx context.Context, q database.Querier, filter AuditFilter) ([]*AuditLogEntry, error) {
	query := `SELECT` + auditColumns + ` FROM audit_logs WHERE 1=1`
	args := []any{}
	argn := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argn)
		args = append(args, *filter.UserID)
		argn++
	}
	if filter.ActionType != nil {
		query += fmt.Sprintf(" AND action_type = $%d", argn)
		args = append(args, *filter.ActionType)
		argn++
	}
	if filter.ResourceType != nil {
		query += fmt.Sprintf(" AND resource_type = $%d", argn)
		args = append(args, *filter.ResourceType)
		argn++
	}

	limit := filter.Limit
	if limit <= 0 || limit > auditListLimitMax {
		limit = auditListLimitMax
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argn)
	args = append(args, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetByID retrieves a single audit entry.
func (r *AuditRepository) GetByID(ctx context.Context, q database.Querier, id string) (*AuditLogEntry, error) {
	query := `SELECT` + auditColumns + ` FROM audit_logs WHERE id = $1`
	entry, err := r.scanEntry(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("audit entry", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit entry")
	}
	return entry, nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanEntry(row auditScanner) (*AuditLogEntry, error) {
	entry := &AuditLogEntry{}
	var oldJSON, newJSON, metaJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.ActionType,
		&entry.ResourceType,
		&entry.ResourceID,
		&oldJSON,
		&newJSON,
		&metaJSON,
		&entry.IPAddress,
		&entry.UserAgent,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if entry.OldValues, err = unmarshalValues(oldJSON); err != nil {
		return nil, err
	}
	if entry.NewValues, err = unmarshalValues(newJSON); err != nil {
		return nil, err
	}
	if entry.Metadata, err = unmarshalValues(metaJSON); err != nil {
		return nil, err
	}
	return entry, nil
}

func marshalValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit values")
	}
	return data, nil
}

func unmarshalValues(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit values")
	}
	return values, nil
}
