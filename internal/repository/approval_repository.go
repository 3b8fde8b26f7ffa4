package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
)

// ApprovalRepository manages approval requests and their votes. Vote casting
// always runs inside the caller's transaction with the request row locked, so
// current_approvals increments serialize against concurrent voters.
type ApprovalRepository struct{}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository() *ApprovalRepository {
	return &ApprovalRepository{}
}

const approvalColumns = `
	id, command_id, requested_by, required_approvals, current_approvals,
	status, rejection_reason, notified_at, expires_at, created_at, updated_at`

// Create inserts an approval request. required_approvals is immutable after
// this point; no update query touches it.
func (r *ApprovalRepository) Create(ctx context.Context, q database.Querier, req *ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests
		    (command_id, requested_by, required_approvals, status, expires_at)
		VALUES ($1, $2, $3, $4::approval_status, $5)
		RETURNING id, current_approvals, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		req.CommandID,
		req.RequestedBy,
		req.RequiredApprovals,
		req.Status,
		req.ExpiresAt,
	).Scan(&req.ID, &req.CurrentApprovals, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

// GetByID retrieves an approval request.
func (r *ApprovalRepository) GetByID(ctx context.Context, q database.Querier, id string) (*ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	return r.getOne(ctx, q, query, id)
}

// GetByIDForUpdate retrieves an approval request with its row locked for the
// duration of the enclosing transaction.
func (r *ApprovalRepository) GetByIDForUpdate(ctx context.Context, q database.Querier, id string) (*ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, q, query, id)
}

func (r *ApprovalRepository) getOne(ctx context.Context, q database.Querier, query, id string) (*ApprovalRequest, error) {
	req, err := r.scanRequest(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval request")
	}
	return req, nil
}

// List returns approval requests newest-first with optional status and
// requester filters.
func (r *ApprovalRepository) List(ctx context.Context, q database.Querier, status *ApprovalStatus, requestedBy *string, limit int) ([]*ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + ` FROM approval_requests WHERE 1=1`
	args := []any{}
	argn := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d::approval_status", argn)
		args = append(args, *status)
		argn++
	}
	if requestedBy != nil {
		query += fmt.Sprintf(" AND requested_by = $%d", argn)
		args = append(args, *requestedBy)
		argn++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argn)
	args = append(args, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval requests")
	}
	defer rows.Close()

	var requests []*ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// IncrementApprovals bumps current_approvals and returns the new count.
func (r *ApprovalRepository) IncrementApprovals(ctx context.Context, q database.Querier, id string) (int, error) {
	var current int
	err := q.QueryRow(ctx, `
		UPDATE approval_requests
		SET current_approvals = current_approvals + 1,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING current_approvals
	`, id).Scan(&current)

	if err == pgx.ErrNoRows {
		return 0, errors.NotFound("approval request", id)
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to increment approvals")
	}
	return current, nil
}

// SetStatus transitions a PENDING request to a terminal status. The WHERE
// guard makes terminal states sticky.
func (r *ApprovalRepository) SetStatus(ctx context.Context, q database.Querier, id string, status ApprovalStatus, rejectionReason *string) error {
	tag, err := q.Exec(ctx, `
		UPDATE approval_requests
		SET status           = $2::approval_status,
		    rejection_reason = COALESCE($3, rejection_reason),
		    updated_at       = NOW()
		WHERE id = $1
		  AND status = 'PENDING'::approval_status
	`, id, status, rejectionReason)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeInvalidState, "approval request %s is not pending", id)
	}
	return nil
}

// MarkNotified stamps notified_at after a successful admin notification.
// Best-effort bookkeeping, runs outside the submission transaction.
func (r *ApprovalRepository) MarkNotified(ctx context.Context, q database.Querier, id string) error {
	_, err := q.Exec(ctx, `
		UPDATE approval_requests
		SET notified_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark approval notified")
	}
	return nil
}

// InsertVote records one admin's vote. The (approval_request_id, admin_id)
// unique constraint turns a second vote into DUPLICATE_VOTE.
func (r *ApprovalRepository) InsertVote(ctx context.Context, q database.Querier, vote *ApprovalVote) error {
	query := `
		INSERT INTO approval_votes (approval_request_id, admin_id, vote, comment)
		VALUES ($1, $2, $3::vote_type, $4)
		RETURNING id, created_at
	`

	err := q.QueryRow(ctx, query,
		vote.ApprovalRequestID,
		vote.AdminID,
		vote.Vote,
		vote.Comment,
	).Scan(&vote.ID, &vote.CreatedAt)

	if errors.IsUniqueViolation(err) {
		return errors.New(errors.ErrCodeDuplicateVote, "admin has already voted on this request")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert vote")
	}
	return nil
}

// VotesForRequest returns all votes on a request ordered by cast time
// ascending, with voter usernames attached.
func (r *ApprovalRepository) VotesForRequest(ctx context.Context, q database.Querier, requestID string) ([]*ApprovalVote, error) {
	rows, err := q.Query(ctx, `
		SELECT v.id, v.approval_request_id, v.admin_id, u.username,
		       v.vote, v.comment, v.created_at
		FROM approval_votes v
		JOIN users u ON u.id = v.admin_id
		WHERE v.approval_request_id = $1
		ORDER BY v.created_at ASC
	`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list votes")
	}
	defer rows.Close()

	var votes []*ApprovalVote
	for rows.Next() {
		v := &ApprovalVote{}
		err := rows.Scan(
			&v.ID,
			&v.ApprovalRequestID,
			&v.AdminID,
			&v.AdminUsername,
			&v.Vote,
			&v.Comment,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan vote")
		}
		votes = append(votes, v)
	}
	return votes, nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanRequest(row approvalScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.CommandID,
		&req.RequestedBy,
		&req.RequiredApprovals,
		&req.CurrentApprovals,
		&req.Status,
		&req.RejectionReason,
		&req.NotifiedAt,
		&req.ExpiresAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
