package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

func TestDetectConflictsSeverity(t *testing.T) {
	existing := []*repository.Rule{
		activeRule("block-git", "git\\s+", repository.ActionAutoReject),
	}

	t.Run("different action is HIGH", func(t *testing.T) {
		conflicts, err := DetectConflicts(existing, "git push", repository.ActionAutoAccept)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, "block-git", conflicts[0].Rule.ID)
		assert.Equal(t, SeverityHigh, conflicts[0].Severity)
		assert.Equal(t, "git push", conflicts[0].TestCase)
	})

	t.Run("same action is LOW", func(t *testing.T) {
		conflicts, err := DetectConflicts(existing, "git push", repository.ActionAutoReject)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, SeverityLow, conflicts[0].Severity)
	})
}

func TestDetectConflictsNoOverlap(t *testing.T) {
	existing := []*repository.Rule{
		activeRule("block-git", "git\\s+", repository.ActionAutoReject),
	}

	conflicts, err := DetectConflicts(existing, "kubectl", repository.ActionNeedsApproval)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectConflictsOnePerRule(t *testing.T) {
	// "ls" and "cat file.txt" both probe the read-only rule; only the first
	// shared hit is reported per rule.
	existing := []*repository.Rule{
		activeRule("allow-reads", "^(ls|cat|pwd|echo)(\\s|$)", repository.ActionAutoAccept),
	}

	conflicts, err := DetectConflicts(existing, "^(ls|cat)", repository.ActionAutoAccept)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestDetectConflictsSkipsInactive(t *testing.T) {
	rule := activeRule("block-git", "git\\s+", repository.ActionAutoReject)
	rule.IsActive = false

	conflicts, err := DetectConflicts([]*repository.Rule{rule}, "git push", repository.ActionAutoAccept)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectConflictsInvalidCandidate(t *testing.T) {
	_, err := DetectConflicts(nil, "(git", repository.ActionAutoReject)
	assert.Error(t, err)
}
