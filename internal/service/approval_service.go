package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/client"
	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

// ApprovalService runs the multi-admin quorum workflow. A single REJECT vote
// finalizes the request immediately; APPROVE votes accumulate until the
// request's required_approvals count is reached, at which point the parked
// command executes and one credit is debited from the requester.
//
// Expiry is lazy: any read or vote that touches a PENDING request past its
// expires_at finalizes it as EXPIRED first.
type ApprovalService struct {
	db           *database.DB
	userRepo     *repository.UserRepository
	commandRepo  *repository.CommandRepository
	approvalRepo *repository.ApprovalRepository
	auditRepo    *repository.AuditRepository
	notifier     *client.NotificationPublisher
	log          *logger.Logger
}

// NewApprovalService creates a new approval service.
func NewApprovalService(
	db *database.DB,
	userRepo *repository.UserRepository,
	commandRepo *repository.CommandRepository,
	approvalRepo *repository.ApprovalRepository,
	auditRepo *repository.AuditRepository,
	notifier *client.NotificationPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		db:           db,
		userRepo:     userRepo,
		commandRepo:  commandRepo,
		approvalRepo: approvalRepo,
		auditRepo:    auditRepo,
		notifier:     notifier,
		log:          log,
	}
}

// CastVoteRequest represents one admin's vote on an approval request.
type CastVoteRequest struct {
	RequestID string
	Admin     *repository.User
	Vote      repository.Vote
	Comment   *string
}

// VoteResult reports the request state after a vote landed.
type VoteResult struct {
	Request *repository.ApprovalRequest
	Command *repository.Command
}

// voteOutcome is the pure finalization rule applied after each recorded vote.
type voteOutcome int

const (
	outcomePending voteOutcome = iota
	outcomeApproved
	outcomeRejected
)

// resolveVote decides what a vote does to a request given the approval count
// after this vote. REJECT always finalizes; APPROVE finalizes only at quorum.
func resolveVote(vote repository.Vote, currentApprovals, requiredApprovals int) voteOutcome {
	if vote == repository.VoteReject {
		return outcomeRejected
	}
	if currentApprovals >= requiredApprovals {
		return outcomeApproved
	}
	return outcomePending
}

// CastVote records one admin's vote and finalizes the request when the vote
// decides it. The whole operation runs in one transaction with the request
// row locked, so concurrent votes on one request serialize.
func (s *ApprovalService) CastVote(ctx context.Context, req *CastVoteRequest) (*VoteResult, error) {
	if !req.Vote.Valid() {
		return nil, errors.InvalidInput("vote", "must be APPROVE or REJECT")
	}

	result := &VoteResult{}
	var eventType string

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		request, err := s.approvalRepo.GetByIDForUpdate(ctx, tx, req.RequestID)
		if err != nil {
			return err
		}

		expired, err := s.expireIfDue(ctx, tx, request)
		if err != nil {
			return err
		}
		if expired {
			return errors.New(errors.ErrCodeInvalidState, "approval request has expired")
		}
		if request.Status != repository.ApprovalPending {
			return errors.Newf(errors.ErrCodeInvalidState,
				"approval request is already %s", request.Status)
		}

		vote := &repository.ApprovalVote{
			ApprovalRequestID: request.ID,
			AdminID:           req.Admin.ID,
			Vote:              req.Vote,
			Comment:           req.Comment,
		}
		if err := s.approvalRepo.InsertVote(ctx, tx, vote); err != nil {
			return err
		}

		if req.Vote == repository.VoteApprove {
			request.CurrentApprovals, err = s.approvalRepo.IncrementApprovals(ctx, tx, request.ID)
			if err != nil {
				return err
			}
		}

		if err := s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
			UserID:       &req.Admin.ID,
			ActionType:   repository.AuditApprovalVoteCast,
			ResourceType: ptr("approval_request"),
			ResourceID:   &request.ID,
			Metadata: map[string]any{
				"vote":               req.Vote,
				"current_approvals":  request.CurrentApprovals,
				"required_approvals": request.RequiredApprovals,
			},
		}); err != nil {
			return err
		}

		switch resolveVote(req.Vote, request.CurrentApprovals, request.RequiredApprovals) {
		case outcomeRejected:
			eventType = "approval_rejected"
			return s.finalizeRejected(ctx, tx, request, req, result)
		case outcomeApproved:
			eventType = "approval_approved"
			return s.finalizeApproved(ctx, tx, request, req.Admin, result)
		default:
			result.Request = request
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if eventType != "" {
		s.notifyDecision(ctx, eventType, result, req.Admin)
	}

	s.log.Info().
		Str("approval_request_id", result.Request.ID).
		Str("admin_id", req.Admin.ID).
		Str("vote", string(req.Vote)).
		Str("status", string(result.Request.Status)).
		Msg("Vote cast")

	return result, nil
}

func (s *ApprovalService) finalizeRejected(ctx context.Context, tx pgx.Tx, request *repository.ApprovalRequest, req *CastVoteRequest, result *VoteResult) error {
	reason := fmt.Sprintf("Rejected by %s", req.Admin.Username)
	if req.Comment != nil && *req.Comment != "" {
		reason = *req.Comment
	}

	if err := s.approvalRepo.SetStatus(ctx, tx, request.ID, repository.ApprovalRejected, &reason); err != nil {
		return err
	}
	request.Status = repository.ApprovalRejected
	request.RejectionReason = &reason

	if err := s.commandRepo.MarkRejected(ctx, tx, request.CommandID, reason); err != nil {
		return err
	}

	if err := s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
		UserID:       &req.Admin.ID,
		ActionType:   repository.AuditApprovalRejected,
		ResourceType: ptr("approval_request"),
		ResourceID:   &request.ID,
		Metadata: map[string]any{
			"command_id": request.CommandID,
			"reason":     reason,
		},
	}); err != nil {
		return err
	}

	cmd, err := s.commandRepo.GetByID(ctx, tx, request.CommandID, nil)
	if err != nil {
		return err
	}
	result.Request = request
	result.Command = cmd
	return nil
}

func (s *ApprovalService) finalizeApproved(ctx context.Context, tx pgx.Tx, request *repository.ApprovalRequest, admin *repository.User, result *VoteResult) error {
	if err := s.approvalRepo.SetStatus(ctx, tx, request.ID, repository.ApprovalApproved, nil); err != nil {
		return err
	}
	request.Status = repository.ApprovalApproved

	// The requester pays at execution time, not at submission. Their balance
	// may have been drained since; quorum does not override the ledger.
	cmd, err := s.commandRepo.GetByID(ctx, tx, request.CommandID, nil)
	if err != nil {
		return err
	}
	if _, err := s.userRepo.DebitCredits(ctx, tx, cmd.UserID, 1); err != nil {
		return err
	}

	output := simulatedOutput(cmd.CommandText)
	if err := s.commandRepo.MarkExecuted(ctx, tx, cmd.ID, output); err != nil {
		return err
	}
	cmd.Status = repository.CommandExecuted
	cmd.Output = &output
	cmd.CreditsUsed = 1

	if err := s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
		UserID:       &admin.ID,
		ActionType:   repository.AuditCommandExecuted,
		ResourceType: ptr("command"),
		ResourceID:   &cmd.ID,
		Metadata: map[string]any{
			"approval_request_id": request.ID,
			"approved_by":         admin.Username,
			"credits_used":        1,
		},
	}); err != nil {
		return err
	}

	result.Request = request
	result.Command = cmd
	return nil
}

// expireIfDue finalizes a PENDING request past its deadline as EXPIRED and
// rejects the parked command. Returns true when the request expired.
func (s *ApprovalService) expireIfDue(ctx context.Context, tx pgx.Tx, request *repository.ApprovalRequest) (bool, error) {
	if request.Status != repository.ApprovalPending {
		return false, nil
	}
	if time.Now().UTC().Before(request.ExpiresAt) {
		return false, nil
	}

	reason := "Approval request expired"
	if err := s.approvalRepo.SetStatus(ctx, tx, request.ID, repository.ApprovalExpired, &reason); err != nil {
		return false, err
	}
	request.Status = repository.ApprovalExpired
	request.RejectionReason = &reason

	if err := s.commandRepo.MarkRejected(ctx, tx, request.CommandID, reason); err != nil {
		return false, err
	}

	err := s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
		UserID:       &request.RequestedBy,
		ActionType:   repository.AuditApprovalExpired,
		ResourceType: ptr("approval_request"),
		ResourceID:   &request.ID,
		Metadata: map[string]any{
			"command_id": request.CommandID,
			"expires_at": request.ExpiresAt,
		},
	})
	if err != nil {
		return false, err
	}

	s.log.Info().
		Str("approval_request_id", request.ID).
		Msg("Approval request expired")

	return true, nil
}

// GetRequest retrieves an approval request, lazily expiring it first when its
// deadline has passed.
func (s *ApprovalService) GetRequest(ctx context.Context, id string) (*repository.ApprovalRequest, error) {
	var request *repository.ApprovalRequest
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		request, err = s.approvalRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = s.expireIfDue(ctx, tx, request)
		return err
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ListRequests returns approval requests, optionally filtered by status and
// requester.
func (s *ApprovalService) ListRequests(ctx context.Context, status *repository.ApprovalStatus, requestedBy *string, limit int) ([]*repository.ApprovalRequest, error) {
	if status != nil {
		switch *status {
		case repository.ApprovalPending, repository.ApprovalApproved,
			repository.ApprovalRejected, repository.ApprovalExpired:
		default:
			return nil, errors.InvalidInput("status", "unknown approval status")
		}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.approvalRepo.List(ctx, s.db, status, requestedBy, limit)
}

// GetVotes returns the votes cast on a request in cast order.
func (s *ApprovalService) GetVotes(ctx context.Context, requestID string) ([]*repository.ApprovalVote, error) {
	// Resolve first so unknown request IDs 404 instead of returning empty.
	if _, err := s.approvalRepo.GetByID(ctx, s.db, requestID); err != nil {
		return nil, err
	}
	return s.approvalRepo.VotesForRequest(ctx, s.db, requestID)
}

// notifyDecision tells the requester their command's fate.
func (s *ApprovalService) notifyDecision(ctx context.Context, eventType string, result *VoteResult, admin *repository.User) {
	requester, err := s.userRepo.GetByID(ctx, s.db, result.Request.RequestedBy)
	if err != nil {
		s.log.Warn().Err(err).Msg("notification: failed to resolve requester")
		return
	}

	var recipients []string
	if requester.NotificationEmail != nil && *requester.NotificationEmail != "" {
		recipients = []string{*requester.NotificationEmail}
	}

	payload := map[string]any{
		"command_id": result.Request.CommandID,
		"decided_by": admin.Username,
	}
	if result.Request.RejectionReason != nil {
		payload["reason"] = *result.Request.RejectionReason
	}

	s.notifier.PublishApprovalEvent(ctx, eventType, result.Request.ID, admin.ID, recipients, payload)
}
