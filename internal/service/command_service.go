package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/client"
	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
	"github.com/unboundops/be-cmd-gateway/internal/rules"
)

const maxCommandLength = 4096

// CommandService is the admission engine: it classifies each submitted
// command against the active rules and either executes it (simulated),
// rejects it, or parks it behind an approval request.
//
// Each submission runs in a single transaction that starts by locking the
// submitter's credit balance row, so concurrent submissions from one user
// serialize and the balance can never be double-spent.
type CommandService struct {
	db           *database.DB
	userRepo     *repository.UserRepository
	ruleRepo     *repository.RuleRepository
	commandRepo  *repository.CommandRepository
	approvalRepo *repository.ApprovalRepository
	auditRepo    *repository.AuditRepository
	notifier     *client.NotificationPublisher
	requestTTL   time.Duration
	log          *logger.Logger
}

// NewCommandService creates a new command service.
func NewCommandService(
	db *database.DB,
	userRepo *repository.UserRepository,
	ruleRepo *repository.RuleRepository,
	commandRepo *repository.CommandRepository,
	approvalRepo *repository.ApprovalRepository,
	auditRepo *repository.AuditRepository,
	notifier *client.NotificationPublisher,
	requestTTL time.Duration,
	log *logger.Logger,
) *CommandService {
	return &CommandService{
		db:           db,
		userRepo:     userRepo,
		ruleRepo:     ruleRepo,
		commandRepo:  commandRepo,
		approvalRepo: approvalRepo,
		auditRepo:    auditRepo,
		notifier:     notifier,
		requestTTL:   requestTTL,
		log:          log,
	}
}

// SubmitResult is the outcome of one admission decision.
type SubmitResult struct {
	Command         *repository.Command
	ApprovalRequest *repository.ApprovalRequest
	CreditBalance   int
}

// Submit admits one command for the given user.
//
// Admission order inside the transaction: lock the balance, reject outright
// when no credits remain (no command row is written), then classify. Unmatched
// commands fall through to NEEDS_APPROVAL; execution is always the simulated
// placeholder.
func (s *CommandService) Submit(ctx context.Context, user *repository.User, commandText string) (*SubmitResult, error) {
	commandText = strings.TrimSpace(commandText)
	if commandText == "" {
		return nil, errors.InvalidInput("command_text", "command text is required")
	}
	if len(commandText) > maxCommandLength {
		return nil, errors.InvalidInput("command_text", "command text is too long")
	}

	result := &SubmitResult{}

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		balance, err := s.userRepo.LockCreditBalance(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if balance <= 0 {
			return errors.New(errors.ErrCodeInsufficientCredits, "insufficient credits to submit command")
		}

		activeRules, err := s.ruleRepo.List(ctx, tx, true)
		if err != nil {
			return err
		}
		matched := rules.Match(activeRules, commandText)

		action := repository.ActionNeedsApproval
		if matched != nil {
			action = matched.Action
		}

		switch action {
		case repository.ActionAutoReject:
			return s.admitRejected(ctx, tx, user, commandText, matched, balance, result)
		case repository.ActionAutoAccept:
			return s.admitExecuted(ctx, tx, user, commandText, matched, result)
		default:
			return s.admitNeedsApproval(ctx, tx, user, commandText, matched, balance, result)
		}
	})
	if err != nil {
		return nil, err
	}

	if result.ApprovalRequest != nil {
		s.notifyApprovalRequired(ctx, user, result)
	}

	s.log.Info().
		Str("command_id", result.Command.ID).
		Str("user_id", user.ID).
		Str("status", string(result.Command.Status)).
		Int("credit_balance", result.CreditBalance).
		Msg("Command admitted")

	return result, nil
}

func (s *CommandService) admitRejected(ctx context.Context, tx pgx.Tx, user *repository.User, commandText string, matched *repository.Rule, balance int, result *SubmitResult) error {
	ruleName := matched.Pattern
	if matched.Description != nil && *matched.Description != "" {
		ruleName = *matched.Description
	}
	reason := fmt.Sprintf("Command rejected by rule: %s", ruleName)

	cmd := &repository.Command{
		UserID:        user.ID,
		CommandText:   commandText,
		Status:        repository.CommandPending,
		MatchedRuleID: &matched.ID,
	}
	if err := s.commandRepo.Create(ctx, tx, cmd); err != nil {
		return err
	}
	if err := s.commandRepo.MarkRejected(ctx, tx, cmd.ID, reason); err != nil {
		return err
	}
	cmd.Status = repository.CommandRejected
	cmd.ErrorMessage = &reason

	result.Command = cmd
	result.CreditBalance = balance

	return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
		UserID:       &user.ID,
		ActionType:   repository.AuditCommandRejected,
		ResourceType: ptr("command"),
		ResourceID:   &cmd.ID,
		Metadata: map[string]any{
			"matched_rule_id": matched.ID,
			"reason":          reason,
		},
	})
}

func (s *CommandService) admitExecuted(ctx context.Context, tx pgx.Tx, user *repository.User, commandText string, matched *repository.Rule, result *SubmitResult) error {
	cmd := &repository.Command{
		UserID:        user.ID,
		CommandText:   commandText,
		Status:        repository.CommandPending,
		MatchedRuleID: &matched.ID,
	}
	if err := s.commandRepo.Create(ctx, tx, cmd); err != nil {
		return err
	}

	balance, err := s.userRepo.DebitCredits(ctx, tx, user.ID, 1)
	if err != nil {
		return err
	}

	output := simulatedOutput(commandText)
	if err := s.commandRepo.MarkExecuted(ctx, tx, cmd.ID, output); err != nil {
		return err
	}
	cmd.Status = repository.CommandExecuted
	cmd.Output = &output
	cmd.CreditsUsed = 1

	result.Command = cmd
	result.CreditBalance = balance

	return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
		UserID:       &user.ID,
		ActionType:   repository.AuditCommandExecuted,
		ResourceType: ptr("command"),
		ResourceID:   &cmd.ID,
		Metadata: map[string]any{
			"matched_rule_id": matched.ID,
			"credits_used":    1,
		},
	})
}

func (s *CommandService) admitNeedsApproval(ctx context.Context, tx pgx.Tx, user *repository.User, commandText string, matched *repository.Rule, balance int, result *SubmitResult) error {
	cmd := &repository.Command{
		UserID:      user.ID,
		CommandText: commandText,
		Status:      repository.CommandNeedsApproval,
	}
	if matched != nil {
		cmd.MatchedRuleID = &matched.ID
	}
	if err := s.commandRepo.Create(ctx, tx, cmd); err != nil {
		return err
	}

	req := &repository.ApprovalRequest{
		CommandID:         cmd.ID,
		RequestedBy:       user.ID,
		RequiredApprovals: rules.RequiredApprovals(user.Tier, matched),
		Status:            repository.ApprovalPending,
		ExpiresAt:         time.Now().UTC().Add(s.requestTTL),
	}
	if err := s.approvalRepo.Create(ctx, tx, req); err != nil {
		return err
	}

	result.Command = cmd
	result.ApprovalRequest = req
	result.CreditBalance = balance

	metadata := map[string]any{
		"approval_request_id": req.ID,
		"required_approvals":  req.RequiredApprovals,
	}
	if matched != nil {
		metadata["matched_rule_id"] = matched.ID
	}

	return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
		UserID:       &user.ID,
		ActionType:   repository.AuditCommandPendingApproval,
		ResourceType: ptr("command"),
		ResourceID:   &cmd.ID,
		Metadata:     metadata,
	})
}

// notifyApprovalRequired tells active admins a request needs their vote.
// Runs after the admission transaction committed; failures only cost the
// notified_at stamp.
func (s *CommandService) notifyApprovalRequired(ctx context.Context, user *repository.User, result *SubmitResult) {
	recipients, err := s.userRepo.AdminRecipients(ctx, s.db)
	if err != nil {
		s.log.Warn().Err(err).Msg("notification: failed to resolve admin recipients")
		return
	}

	published := s.notifier.PublishApprovalEvent(ctx, "approval_required",
		result.ApprovalRequest.ID, user.ID, recipients, map[string]any{
			"command_id":         result.Command.ID,
			"command_text":       result.Command.CommandText,
			"requested_by":       user.Username,
			"required_approvals": result.ApprovalRequest.RequiredApprovals,
			"expires_at":         result.ApprovalRequest.ExpiresAt,
		})
	if !published {
		return
	}

	if err := s.approvalRepo.MarkNotified(ctx, s.db, result.ApprovalRequest.ID); err != nil {
		s.log.Warn().Err(err).
			Str("approval_request_id", result.ApprovalRequest.ID).
			Msg("notification: failed to stamp notified_at")
	}
}

// GetCommand retrieves a command. Members see only their own commands; admins
// see everything.
func (s *CommandService) GetCommand(ctx context.Context, id string, viewer *repository.User) (*repository.Command, error) {
	var ownerID *string
	if viewer.Role != repository.RoleAdmin {
		ownerID = &viewer.ID
	}
	return s.commandRepo.GetByID(ctx, s.db, id, ownerID)
}

// ListCommands returns the viewer's command history, or everyone's for admins.
func (s *CommandService) ListCommands(ctx context.Context, viewer *repository.User, limit int) ([]*repository.Command, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var ownerID *string
	if viewer.Role != repository.RoleAdmin {
		ownerID = &viewer.ID
	}
	return s.commandRepo.List(ctx, s.db, ownerID, limit)
}

// simulatedOutput is the placeholder execution result. Nothing is ever run.
func simulatedOutput(commandText string) string {
	return fmt.Sprintf("[SIMULATED] Command '%s' would execute here", commandText)
}
