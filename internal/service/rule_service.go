package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
	"github.com/unboundops/be-cmd-gateway/internal/rules"
)

// RuleService handles classification rule management. Writes are admin-only,
// enforced at the HTTP layer.
type RuleService struct {
	db        *database.DB
	ruleRepo  *repository.RuleRepository
	auditRepo *repository.AuditRepository
	log       *logger.Logger
}

// NewRuleService creates a new rule service.
func NewRuleService(
	db *database.DB,
	ruleRepo *repository.RuleRepository,
	auditRepo *repository.AuditRepository,
	log *logger.Logger,
) *RuleService {
	return &RuleService{
		db:        db,
		ruleRepo:  ruleRepo,
		auditRepo: auditRepo,
		log:       log,
	}
}

// CreateRuleRequest represents a create rule request.
type CreateRuleRequest struct {
	Pattern           string
	Action            repository.Action
	Description       *string
	ApprovalThreshold int
	TierThresholds    repository.TierThresholds
	ActorID           string
}

// UpdateRuleRequest represents a partial rule update. Nil fields keep their
// current value.
type UpdateRuleRequest struct {
	ID                string
	Pattern           *string
	Action            *repository.Action
	Description       *string
	ApprovalThreshold *int
	TierThresholds    repository.TierThresholds
	IsActive          *bool
	ActorID           string
}

// CreateRule validates and persists a new rule, auditing the creation in the
// same transaction.
func (s *RuleService) CreateRule(ctx context.Context, req *CreateRuleRequest) (*repository.Rule, error) {
	if err := rules.ValidatePattern(req.Pattern); err != nil {
		return nil, err
	}
	if !req.Action.Valid() {
		return nil, errors.InvalidInput("action", "must be one of: AUTO_ACCEPT, AUTO_REJECT, NEEDS_APPROVAL")
	}

	threshold := req.ApprovalThreshold
	if threshold == 0 {
		threshold = 1
	}
	if err := rules.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if err := rules.ValidateTierThresholds(req.TierThresholds); err != nil {
		return nil, err
	}

	tierThresholds := req.TierThresholds
	if tierThresholds == nil {
		tierThresholds = rules.DefaultTierThresholds()
	}

	rule := &repository.Rule{
		Pattern:           req.Pattern,
		Action:            req.Action,
		Description:       req.Description,
		ApprovalThreshold: threshold,
		TierThresholds:    tierThresholds,
	}

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.ruleRepo.Create(ctx, tx, rule); err != nil {
			return err
		}
		return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
			UserID:       &req.ActorID,
			ActionType:   repository.AuditRuleCreated,
			ResourceType: ptr("rule"),
			ResourceID:   &rule.ID,
			NewValues:    ruleValues(rule),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("pattern", rule.Pattern).
		Str("action", string(rule.Action)).
		Msg("Rule created")

	return rule, nil
}

// GetRule retrieves a rule by ID.
func (s *RuleService) GetRule(ctx context.Context, id string) (*repository.Rule, error) {
	return s.ruleRepo.GetByID(ctx, s.db, id)
}

// ListRules returns rules in match-priority order.
func (s *RuleService) ListRules(ctx context.Context, activeOnly bool) ([]*repository.Rule, error) {
	return s.ruleRepo.List(ctx, s.db, activeOnly)
}

// UpdateRule applies a partial update, re-validating whatever changed.
func (s *RuleService) UpdateRule(ctx context.Context, req *UpdateRuleRequest) (*repository.Rule, error) {
	var rule *repository.Rule

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		rule, err = s.ruleRepo.GetByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		oldValues := ruleValues(rule)

		if req.Pattern != nil {
			if err := rules.ValidatePattern(*req.Pattern); err != nil {
				return err
			}
			rule.Pattern = *req.Pattern
		}
		if req.Action != nil {
			if !req.Action.Valid() {
				return errors.InvalidInput("action", "must be one of: AUTO_ACCEPT, AUTO_REJECT, NEEDS_APPROVAL")
			}
			rule.Action = *req.Action
		}
		if req.Description != nil {
			rule.Description = req.Description
		}
		if req.ApprovalThreshold != nil {
			if err := rules.ValidateThreshold(*req.ApprovalThreshold); err != nil {
				return err
			}
			rule.ApprovalThreshold = *req.ApprovalThreshold
		}
		if req.TierThresholds != nil {
			if err := rules.ValidateTierThresholds(req.TierThresholds); err != nil {
				return err
			}
			rule.TierThresholds = req.TierThresholds
		}
		if req.IsActive != nil {
			rule.IsActive = *req.IsActive
		}

		if err := s.ruleRepo.Update(ctx, tx, rule); err != nil {
			return err
		}
		return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
			UserID:       &req.ActorID,
			ActionType:   repository.AuditRuleUpdated,
			ResourceType: ptr("rule"),
			ResourceID:   &rule.ID,
			OldValues:    oldValues,
			NewValues:    ruleValues(rule),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Msg("Rule updated")

	return rule, nil
}

// DeleteRule soft-deletes a rule so it stops matching new commands while
// historical references stay resolvable.
func (s *RuleService) DeleteRule(ctx context.Context, id, actorID string) error {
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rule, err := s.ruleRepo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.ruleRepo.SoftDelete(ctx, tx, id); err != nil {
			return err
		}
		return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
			UserID:       &actorID,
			ActionType:   repository.AuditRuleDeleted,
			ResourceType: ptr("rule"),
			ResourceID:   &id,
			OldValues:    ruleValues(rule),
		})
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("rule_id", id).
		Msg("Rule deleted")

	return nil
}

// CheckConflicts runs the advisory conflict probe for a candidate pattern
// against all active rules. It never blocks anything; callers decide what to
// do with the report.
func (s *RuleService) CheckConflicts(ctx context.Context, pattern string, action repository.Action) ([]rules.Conflict, error) {
	if !action.Valid() {
		return nil, errors.InvalidInput("action", "must be one of: AUTO_ACCEPT, AUTO_REJECT, NEEDS_APPROVAL")
	}
	existing, err := s.ruleRepo.List(ctx, s.db, true)
	if err != nil {
		return nil, err
	}
	return rules.DetectConflicts(existing, pattern, action)
}

func ruleValues(rule *repository.Rule) map[string]any {
	return map[string]any{
		"pattern":            rule.Pattern,
		"action":             rule.Action,
		"approval_threshold": rule.ApprovalThreshold,
		"tier_thresholds":    rule.TierThresholds,
		"is_active":          rule.IsActive,
	}
}
