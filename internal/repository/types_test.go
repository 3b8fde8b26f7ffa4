package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionValid(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		valid  bool
	}{
		{"auto accept", ActionAutoAccept, true},
		{"auto reject", ActionAutoReject, true},
		{"needs approval", ActionNeedsApproval, true},
		{"empty", Action(""), false},
		{"lowercase", Action("auto_accept"), false},
		{"unknown", Action("MAYBE"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.action.Valid())
		})
	}
}

func TestVoteValid(t *testing.T) {
	assert.True(t, VoteApprove.Valid())
	assert.True(t, VoteReject.Valid())
	assert.False(t, Vote("ABSTAIN").Valid())
	assert.False(t, Vote("").Valid())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleMember.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("superuser").Valid())
}

func TestApprovalRequestThresholdMet(t *testing.T) {
	req := &ApprovalRequest{RequiredApprovals: 2}

	assert.False(t, req.ThresholdMet())
	req.CurrentApprovals = 1
	assert.False(t, req.ThresholdMet())
	req.CurrentApprovals = 2
	assert.True(t, req.ThresholdMet())
	req.CurrentApprovals = 3
	assert.True(t, req.ThresholdMet())
}

func TestApprovalRequestEffectiveStatus(t *testing.T) {
	now := time.Now().UTC()

	pending := &ApprovalRequest{Status: ApprovalPending, ExpiresAt: now.Add(time.Hour)}
	assert.Equal(t, ApprovalPending, pending.EffectiveStatus(now))

	overdue := &ApprovalRequest{Status: ApprovalPending, ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, ApprovalExpired, overdue.EffectiveStatus(now))

	atDeadline := &ApprovalRequest{Status: ApprovalPending, ExpiresAt: now}
	assert.Equal(t, ApprovalExpired, atDeadline.EffectiveStatus(now))

	// Terminal statuses never change, even past the deadline.
	approved := &ApprovalRequest{Status: ApprovalApproved, ExpiresAt: now.Add(-time.Hour)}
	assert.Equal(t, ApprovalApproved, approved.EffectiveStatus(now))
}

func TestTierValid(t *testing.T) {
	for _, tier := range Tiers() {
		assert.True(t, tier.Valid(), string(tier))
	}
	assert.False(t, Tier("intern").Valid())
	assert.False(t, Tier("").Valid())
}
