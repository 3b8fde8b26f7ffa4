package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
)

// CommandRepository handles command rows. Status transitions are monotonic:
// EXECUTED, REJECTED and FAILED are terminal, enforced by the WHERE guards on
// the finalize queries.
type CommandRepository struct{}

// NewCommandRepository creates a new CommandRepository.
func NewCommandRepository() *CommandRepository {
	return &CommandRepository{}
}

const commandColumns = `
	id, user_id, command_text, status, matched_rule_id,
	credits_used, output, error_message, started_at, completed_at, created_at`

// Create inserts a command in its initial status (PENDING, REJECTED or
// NEEDS_APPROVAL depending on the admission branch).
func (r *CommandRepository) Create(ctx context.Context, q database.Querier, cmd *Command) error {
	query := `
		INSERT INTO commands (user_id, command_text, status, matched_rule_id, credits_used)
		VALUES ($1, $2, $3::command_status, $4, $5)
		RETURNING id, started_at, created_at
	`

	err := q.QueryRow(ctx, query,
		cmd.UserID,
		cmd.CommandText,
		cmd.Status,
		cmd.MatchedRuleID,
		cmd.CreditsUsed,
	).Scan(&cmd.ID, &cmd.StartedAt, &cmd.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create command")
	}
	return nil
}

// MarkExecuted finalizes a command as EXECUTED with its placeholder output
// and one credit spent. Only non-terminal commands can transition.
func (r *CommandRepository) MarkExecuted(ctx context.Context, q database.Querier, id, output string) error {
	tag, err := q.Exec(ctx, `
		UPDATE commands
		SET status       = 'EXECUTED'::command_status,
		    credits_used = 1,
		    output       = $2,
		    completed_at = NOW()
		WHERE id = $1
		  AND status IN ('PENDING'::command_status, 'NEEDS_APPROVAL'::command_status)
	`, id, output)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark command executed")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeInvalidState, "command %s is not in an executable state", id)
	}
	return nil
}

// MarkRejected finalizes a command as REJECTED with an error message.
func (r *CommandRepository) MarkRejected(ctx context.Context, q database.Querier, id, errorMessage string) error {
	tag, err := q.Exec(ctx, `
		UPDATE commands
		SET status        = 'REJECTED'::command_status,
		    error_message = $2,
		    completed_at  = NOW()
		WHERE id = $1
		  AND status IN ('PENDING'::command_status, 'NEEDS_APPROVAL'::command_status)
	`, id, errorMessage)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark command rejected")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeInvalidState, "command %s is not in a rejectable state", id)
	}
	return nil
}

// GetByID retrieves a command, optionally scoped to an owner (members may
// only read their own commands).
func (r *CommandRepository) GetByID(ctx context.Context, q database.Querier, id string, ownerID *string) (*Command, error) {
	query := `SELECT` + commandColumns + ` FROM commands WHERE id = $1`
	args := []any{id}
	if ownerID != nil {
		query += ` AND user_id = $2`
		args = append(args, *ownerID)
	}

	cmd, err := r.scanCommand(q.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("command", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get command")
	}
	return cmd, nil
}

// List returns commands newest-first, optionally scoped to one owner.
func (r *CommandRepository) List(ctx context.Context, q database.Querier, ownerID *string, limit int) ([]*Command, error) {
	query := `SELECT` + commandColumns + ` FROM commands`
	args := []any{}
	if ownerID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY created_at DESC`
	if ownerID != nil {
		query += ` LIMIT $2`
	} else {
		query += ` LIMIT $1`
	}
	args = append(args, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list commands")
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		cmd, err := r.scanCommand(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan command")
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type commandScanner interface {
	Scan(dest ...any) error
}

func (r *CommandRepository) scanCommand(row commandScanner) (*Command, error) {
	cmd := &Command{}
	err := row.Scan(
		&cmd.ID,
		&cmd.UserID,
		&cmd.CommandText,
		&cmd.Status,
		&cmd.MatchedRuleID,
		&cmd.CreditsUsed,
		&cmd.Output,
		&cmd.ErrorMessage,
		&cmd.StartedAt,
		&cmd.CompletedAt,
		&cmd.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cmd, nil
}
