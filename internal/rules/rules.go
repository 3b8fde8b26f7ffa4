// Package rules holds the pure command-classification core: pattern
// validation, first-match-wins matching over active rules, the advisory
// conflict check, and required-approval calculation. Everything here is
// side-effect free so the admission invariants are directly testable.
package rules

import (
	"regexp"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

const (
	minApprovalThreshold = 1
	maxApprovalThreshold = 10
)

// fallbackThresholds applies when a command matched no rule at all.
var fallbackThresholds = repository.TierThresholds{
	repository.TierJunior: 3,
	repository.TierMid:    2,
	repository.TierSenior: 1,
	repository.TierLead:   1,
}

// DefaultTierThresholds returns a fresh copy of the per-tier defaults applied
// to rules created without explicit overrides.
func DefaultTierThresholds() repository.TierThresholds {
	tt := make(repository.TierThresholds, len(fallbackThresholds))
	for tier, n := range fallbackThresholds {
		tt[tier] = n
	}
	return tt
}

// Compile builds the case-insensitive matcher for a rule pattern.
func Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// ValidatePattern checks that pattern compiles as a regular expression.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return errors.InvalidInput("pattern", "pattern is required")
	}
	if _, err := Compile(pattern); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid regex pattern")
	}
	return nil
}

// ValidateThreshold checks the base approval threshold range.
func ValidateThreshold(threshold int) error {
	if threshold < minApprovalThreshold || threshold > maxApprovalThreshold {
		return errors.Newf(errors.ErrCodeValidation,
			"approval_threshold must be between %d and %d", minApprovalThreshold, maxApprovalThreshold)
	}
	return nil
}

// ValidateTierThresholds checks that every key is a known tier and every
// value is a positive integer.
func ValidateTierThresholds(tt repository.TierThresholds) error {
	for tier, n := range tt {
		if !tier.Valid() {
			return errors.Newf(errors.ErrCodeValidation, "unknown tier %q in tier_thresholds", tier)
		}
		if n < 1 {
			return errors.Newf(errors.ErrCodeValidation, "tier_thresholds[%s] must be positive", tier)
		}
	}
	return nil
}

// Match returns the first rule whose pattern matches anywhere in text,
// case-insensitively. Callers pass active rules ordered by creation time
// ascending, making earliest-created the tie-break. Returns nil when nothing
// matches; the caller applies the fail-safe default.
func Match(rs []*repository.Rule, text string) *repository.Rule {
	for _, rule := range rs {
		if !rule.IsActive {
			continue
		}
		re, err := Compile(rule.Pattern)
		if err != nil {
			// Stored patterns are validated at creation; skip rather than fail.
			continue
		}
		if re.MatchString(text) {
			return rule
		}
	}
	return nil
}

// RequiredApprovals resolves the quorum size for a user's tier: the matched
// rule's tier override when present, else the rule's base threshold, else the
// fixed fallback table when no rule matched.
func RequiredApprovals(tier repository.Tier, rule *repository.Rule) int {
	if rule == nil {
		return fallbackThresholds[tier]
	}
	if n, ok := rule.TierThresholds[tier]; ok {
		return n
	}
	return rule.ApprovalThreshold
}
