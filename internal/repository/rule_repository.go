package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
)

// RuleRepository handles CRUD for classification rules. Rules are only ever
// soft-deleted so historical commands keep a resolvable matched_rule_id.
type RuleRepository struct{}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{}
}

const ruleColumns = `
	id, pattern, action, description, approval_threshold,
	tier_thresholds, is_active, created_at, updated_at`

// Create inserts a new rule.
func (r *RuleRepository) Create(ctx context.Context, q database.Querier, rule *Rule) error {
	thresholdsJSON, err := json.Marshal(rule.TierThresholds)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal tier thresholds")
	}

	query := `
		INSERT INTO rules (pattern, action, description, approval_threshold, tier_thresholds)
		VALUES ($1, $2::rule_action, $3, $4, $5)
		RETURNING id, is_active, created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		rule.Pattern,
		rule.Action,
		rule.Description,
		rule.ApprovalThreshold,
		thresholdsJSON,
	).Scan(&rule.ID, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create rule")
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *RuleRepository) GetByID(ctx context.Context, q database.Querier, id string) (*Rule, error) {
	query := `SELECT` + ruleColumns + ` FROM rules WHERE id = $1`
	rule, err := r.scanRule(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("rule", id)
	}
	return rule, err
}

// List returns rules ordered by creation time ascending. That ordering is the
// match priority: the matcher takes the first hit. activeOnly narrows to
// rules that have not been soft-deleted.
func (r *RuleRepository) List(ctx context.Context, q database.Querier, activeOnly bool) ([]*Rule, error) {
	query := `SELECT` + ruleColumns + ` FROM rules`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list rules")
	}
	defer rows.Close()

	var result []*Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan rule")
		}
		result = append(result, rule)
	}
	return result, nil
}

// Update persists changes to an existing rule. Every mutable field is
// written; created_at (the match priority) is never touched.
func (r *RuleRepository) Update(ctx context.Context, q database.Querier, rule *Rule) error {
	thresholdsJSON, err := json.Marshal(rule.TierThresholds)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal tier thresholds")
	}

	query := `
		UPDATE rules
		SET pattern            = $2,
		    action             = $3::rule_action,
		    description        = $4,
		    approval_threshold = $5,
		    tier_thresholds    = $6,
		    is_active          = $7,
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = q.QueryRow(ctx, query,
		rule.ID,
		rule.Pattern,
		rule.Action,
		rule.Description,
		rule.ApprovalThreshold,
		thresholdsJSON,
		rule.IsActive,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("rule", rule.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update rule")
	}
	return nil
}

// SoftDelete flags a rule inactive. Rules are never removed.
func (r *RuleRepository) SoftDelete(ctx context.Context, q database.Querier, id string) error {
	tag, err := q.Exec(ctx, `
		UPDATE rules
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("rule", id)
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *RuleRepository) scanRule(row ruleScanner) (*Rule, error) {
	rule := &Rule{}
	var thresholdsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.Pattern,
		&rule.Action,
		&rule.Description,
		&rule.ApprovalThreshold,
		&thresholdsJSON,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if thresholdsJSON != nil {
		if err := json.Unmarshal(thresholdsJSON, &rule.TierThresholds); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal tier thresholds")
		}
	}
	return rule, nil
}
