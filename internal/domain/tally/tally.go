package tally

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/rolewarden/rolewarden/internal/domain/ballot"
	"github.com/rolewarden/rolewarden/internal/domain/session"
)

// Counts summarizes a ballot snapshot. Approve and Deny are summed vote
// weights unless the policy ignores weights, in which case every ballot
// counts as one.
type Counts struct {
	Approve      int `json:"approve"`
	Deny         int `json:"deny"`
	Abstain      int `json:"abstain"`
	Participants int `json:"participants"`
}

// Counted returns the weight considered for the pass ratio. Abstains never
// count toward the ratio.
func (c Counts) Counted() int {
	return c.Approve + c.Deny
}

// Count reduces a ballot snapshot to per-choice totals.
func Count(ballots []*ballot.Ballot, policy session.Policy) Counts {
	var c Counts
	for _, b := range ballots {
		w := b.Weight
		if policy.IgnoreWeights || w < 1 {
			w = 1
		}
		switch b.Choice {
		case ballot.ChoiceApprove:
			c.Approve += w
		case ballot.ChoiceDeny:
			c.Deny += w
		case ballot.ChoiceAbstain:
			c.Abstain += w
		}
	}
	c.Participants = len(ballots)
	return c
}

// Compute resolves a ballot snapshot against a policy. It is a pure
// function: identical inputs always produce identical outcomes.
//
// Ties fail under the default strict threshold comparison; TiesPass relaxes
// it to >=. An empty ledger always fails, as does participation below the
// policy floor.
func Compute(ballots []*ballot.Ballot, policy session.Policy) session.Outcome {
	c := Count(ballots, policy)

	if cond := strings.TrimSpace(policy.PassCondition); cond != "" {
		if pass, err := evaluatePassCondition(cond, c); err == nil {
			if pass {
				return session.OutcomePassed
			}
			return session.OutcomeFailed
		}
		// Unevaluable condition falls through to the ratio rule.
	}

	counted := c.Counted()
	if counted == 0 {
		return session.OutcomeFailed
	}

	participants := c.Participants
	if !policy.CountAbstain {
		abstainers := 0
		for _, b := range ballots {
			if b.Choice == ballot.ChoiceAbstain {
				abstainers++
			}
		}
		participants -= abstainers
	}
	if participants < policy.MinParticipants {
		return session.OutcomeFailed
	}

	ratio := float64(c.Approve) / float64(counted)
	if policy.TiesPass {
		if ratio >= policy.ApproveThreshold {
			return session.OutcomePassed
		}
		return session.OutcomeFailed
	}
	if ratio > policy.ApproveThreshold {
		return session.OutcomePassed
	}
	return session.OutcomeFailed
}

// ValidateCondition checks that a pass condition parses. An empty
// condition is valid (the ratio rule applies).
func ValidateCondition(condition string) error {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil
	}
	switch strings.ToLower(condition) {
	case "true", "false":
		return nil
	}
	_, err := govaluate.NewEvaluableExpression(condition)
	return err
}

// evaluatePassCondition evaluates a custom pass expression against the
// counted totals, e.g. "approve >= 5 && deny == 0".
func evaluatePassCondition(condition string, c Counts) (bool, error) {
	switch strings.ToLower(condition) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	expr, err := govaluate.NewEvaluableExpression(condition)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(map[string]interface{}{
		"approve":      c.Approve,
		"deny":         c.Deny,
		"abstain":      c.Abstain,
		"counted":      c.Counted(),
		"participants": c.Participants,
	})
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, errors.New("pass condition did not evaluate to boolean")
	}
	return b, nil
}
