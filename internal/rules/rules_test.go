package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

func activeRule(id, pattern string, action repository.Action) *repository.Rule {
	return &repository.Rule{
		ID:                id,
		Pattern:           pattern,
		Action:            action,
		ApprovalThreshold: 1,
		IsActive:          true,
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"simple literal", "git push", false},
		{"anchored", "^rm -rf /$", false},
		{"alternation", "^(ls|cat|pwd)(\\s|$)", false},
		{"empty", "", true},
		{"unclosed group", "(git", true},
		{"bad repetition", "*foo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(1))
	assert.NoError(t, ValidateThreshold(10))
	assert.Error(t, ValidateThreshold(0))
	assert.Error(t, ValidateThreshold(11))
	assert.Error(t, ValidateThreshold(-3))
}

func TestValidateTierThresholds(t *testing.T) {
	assert.NoError(t, ValidateTierThresholds(nil))
	assert.NoError(t, ValidateTierThresholds(repository.TierThresholds{
		repository.TierJunior: 3,
		repository.TierLead:   1,
	}))
	assert.Error(t, ValidateTierThresholds(repository.TierThresholds{
		repository.Tier("intern"): 2,
	}))
	assert.Error(t, ValidateTierThresholds(repository.TierThresholds{
		repository.TierMid: 0,
	}))
}

func TestMatchFirstWins(t *testing.T) {
	rs := []*repository.Rule{
		activeRule("r1", "git\\s+", repository.ActionAutoReject),
		activeRule("r2", "git push", repository.ActionAutoAccept),
	}

	matched := Match(rs, "git push origin main")
	require.NotNil(t, matched)
	assert.Equal(t, "r1", matched.ID)
}

func TestMatchCaseInsensitive(t *testing.T) {
	rs := []*repository.Rule{
		activeRule("r1", "sudo", repository.ActionAutoReject),
	}

	matched := Match(rs, "SUDO rm file")
	require.NotNil(t, matched)
	assert.Equal(t, "r1", matched.ID)
}

func TestMatchAnchoredPatternFallsThrough(t *testing.T) {
	rs := []*repository.Rule{
		activeRule("r1", "^rm -rf /$", repository.ActionAutoReject),
	}

	assert.NotNil(t, Match(rs, "rm -rf /"))
	assert.Nil(t, Match(rs, "rm -rf /tmp"))
	assert.Nil(t, Match(rs, "echo rm -rf /"))
}

func TestMatchSkipsInactiveAndInvalid(t *testing.T) {
	inactive := activeRule("r1", "ls", repository.ActionAutoAccept)
	inactive.IsActive = false
	broken := activeRule("r2", "(ls", repository.ActionAutoAccept)
	ok := activeRule("r3", "ls", repository.ActionAutoAccept)

	matched := Match([]*repository.Rule{inactive, broken, ok}, "ls -la")
	require.NotNil(t, matched)
	assert.Equal(t, "r3", matched.ID)
}

func TestMatchNoRules(t *testing.T) {
	assert.Nil(t, Match(nil, "anything"))
	assert.Nil(t, Match([]*repository.Rule{}, "anything"))
}

func TestDefaultTierThresholds(t *testing.T) {
	tt := DefaultTierThresholds()
	assert.Equal(t, repository.TierThresholds{
		repository.TierJunior: 3,
		repository.TierMid:    2,
		repository.TierSenior: 1,
		repository.TierLead:   1,
	}, tt)

	// Mutating the copy must not leak into later calls.
	tt[repository.TierJunior] = 9
	assert.Equal(t, 3, DefaultTierThresholds()[repository.TierJunior])
}

func TestRequiredApprovals(t *testing.T) {
	withOverride := activeRule("r1", "deploy", repository.ActionNeedsApproval)
	withOverride.ApprovalThreshold = 2
	withOverride.TierThresholds = repository.TierThresholds{
		repository.TierJunior: 5,
	}

	baseOnly := activeRule("r2", "deploy", repository.ActionNeedsApproval)
	baseOnly.ApprovalThreshold = 4

	tests := []struct {
		name string
		tier repository.Tier
		rule *repository.Rule
		want int
	}{
		{"tier override wins", repository.TierJunior, withOverride, 5},
		{"base threshold when no override", repository.TierSenior, withOverride, 2},
		{"base threshold only", repository.TierMid, baseOnly, 4},
		{"fallback junior", repository.TierJunior, nil, 3},
		{"fallback mid", repository.TierMid, nil, 2},
		{"fallback senior", repository.TierSenior, nil, 1},
		{"fallback lead", repository.TierLead, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiredApprovals(tt.tier, tt.rule))
		})
	}
}
