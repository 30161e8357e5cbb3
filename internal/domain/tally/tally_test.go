package tally

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolewarden/rolewarden/internal/domain/ballot"
	"github.com/rolewarden/rolewarden/internal/domain/session"
)

func ballots(choices map[string]ballot.Choice) []*ballot.Ballot {
	out := make([]*ballot.Ballot, 0, len(choices))
	for voter, choice := range choices {
		out = append(out, &ballot.Ballot{
			SessionID: "sess-1",
			Voter:     voter,
			Choice:    choice,
			Weight:    1,
			CastAt:    time.Now().UTC(),
		})
	}
	return out
}

func TestCompute_TieFailsByDefault(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceDeny,
	})
	policy := session.Policy{ApproveThreshold: 0.5}

	assert.Equal(t, session.OutcomeFailed, Compute(bs, policy))
}

func TestCompute_TiePassesWithTiesPass(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceDeny,
	})
	policy := session.Policy{ApproveThreshold: 0.5, TiesPass: true}

	assert.Equal(t, session.OutcomePassed, Compute(bs, policy))
}

func TestCompute_MajorityPasses(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceApprove,
		"carol": ballot.ChoiceDeny,
	})
	policy := session.Policy{ApproveThreshold: 0.5}

	assert.Equal(t, session.OutcomePassed, Compute(bs, policy))
}

func TestCompute_EmptyLedgerFails(t *testing.T) {
	policy := session.Policy{ApproveThreshold: 0.5}

	assert.Equal(t, session.OutcomeFailed, Compute(nil, policy))
}

func TestCompute_OnlyAbstainsFails(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceAbstain,
		"bob":   ballot.ChoiceAbstain,
	})
	policy := session.Policy{ApproveThreshold: 0.5}

	assert.Equal(t, session.OutcomeFailed, Compute(bs, policy))
}

func TestCompute_BelowParticipationFloorFails(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceApprove,
	})
	policy := session.Policy{ApproveThreshold: 0.5, MinParticipants: 5}

	assert.Equal(t, session.OutcomeFailed, Compute(bs, policy))
}

func TestCompute_AbstainersExcludedFromFloorByDefault(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceApprove,
		"carol": ballot.ChoiceAbstain,
	})
	policy := session.Policy{ApproveThreshold: 0.5, MinParticipants: 3}

	assert.Equal(t, session.OutcomeFailed, Compute(bs, policy))

	policy.CountAbstain = true
	assert.Equal(t, session.OutcomePassed, Compute(bs, policy))
}

func TestCompute_Deterministic(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceDeny,
		"carol": ballot.ChoiceApprove,
		"dave":  ballot.ChoiceAbstain,
	})
	policy := session.Policy{ApproveThreshold: 0.5, MinParticipants: 2}

	first := Compute(bs, policy)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Compute(bs, policy))
	}
}

func TestCompute_WeightsSummed(t *testing.T) {
	bs := []*ballot.Ballot{
		{SessionID: "sess-1", Voter: "alice", Choice: ballot.ChoiceApprove, Weight: 3},
		{SessionID: "sess-1", Voter: "bob", Choice: ballot.ChoiceDeny, Weight: 1},
		{SessionID: "sess-1", Voter: "carol", Choice: ballot.ChoiceDeny, Weight: 1},
	}
	policy := session.Policy{ApproveThreshold: 0.5}

	assert.Equal(t, session.OutcomePassed, Compute(bs, policy))

	policy.IgnoreWeights = true
	assert.Equal(t, session.OutcomeFailed, Compute(bs, policy))
}

func TestCount(t *testing.T) {
	bs := []*ballot.Ballot{
		{Voter: "alice", Choice: ballot.ChoiceApprove, Weight: 2},
		{Voter: "bob", Choice: ballot.ChoiceDeny, Weight: 1},
		{Voter: "carol", Choice: ballot.ChoiceAbstain, Weight: 1},
		{Voter: "dave", Choice: ballot.ChoiceApprove}, // zero weight counts as one
	}

	c := Count(bs, session.Policy{})

	assert.Equal(t, 3, c.Approve)
	assert.Equal(t, 1, c.Deny)
	assert.Equal(t, 1, c.Abstain)
	assert.Equal(t, 4, c.Participants)
	assert.Equal(t, 4, c.Counted())
}

func TestCompute_PassCondition(t *testing.T) {
	bs := ballots(map[string]ballot.Choice{
		"alice": ballot.ChoiceApprove,
		"bob":   ballot.ChoiceApprove,
		"carol": ballot.ChoiceDeny,
	})

	tests := []struct {
		name      string
		condition string
		want      session.Outcome
	}{
		{"unanimity required fails", "deny == 0", session.OutcomeFailed},
		{"absolute count passes", "approve >= 2", session.OutcomePassed},
		{"combined clause", "approve >= 2 && participants >= 3", session.OutcomePassed},
		{"literal false", "false", session.OutcomeFailed},
		{"unevaluable falls back to ratio", "not a valid expression !!", session.OutcomePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := session.Policy{ApproveThreshold: 0.5, PassCondition: tt.condition}
			assert.Equal(t, tt.want, Compute(bs, policy))
		})
	}
}

func TestValidateCondition(t *testing.T) {
	for _, cond := range []string{"", "  ", "true", "FALSE", "approve >= 5", "approve >= 2 && deny == 0"} {
		assert.NoError(t, ValidateCondition(cond), "condition=%q", cond)
	}
	for _, cond := range []string{"approve >=", "not a valid expression !!", "&&"} {
		assert.Error(t, ValidateCondition(cond), "condition=%q", cond)
	}
}

func TestEvaluatePassCondition_NonBoolean(t *testing.T) {
	_, err := evaluatePassCondition("approve + deny", Counts{Approve: 1, Deny: 1})
	require.Error(t, err)
}
