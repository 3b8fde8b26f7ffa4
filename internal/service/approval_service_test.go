package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

func TestResolveVote(t *testing.T) {
	tests := []struct {
		name     string
		vote     repository.Vote
		current  int
		required int
		want     voteOutcome
	}{
		{"reject finalizes immediately", repository.VoteReject, 0, 3, outcomeRejected},
		{"reject dominates even at quorum", repository.VoteReject, 3, 3, outcomeRejected},
		{"approve below quorum stays pending", repository.VoteApprove, 1, 3, outcomePending},
		{"approve one short stays pending", repository.VoteApprove, 2, 3, outcomePending},
		{"approve at quorum approves", repository.VoteApprove, 3, 3, outcomeApproved},
		{"single approver quorum", repository.VoteApprove, 1, 1, outcomeApproved},
		{"over quorum still approves", repository.VoteApprove, 4, 3, outcomeApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveVote(tt.vote, tt.current, tt.required))
		})
	}
}
