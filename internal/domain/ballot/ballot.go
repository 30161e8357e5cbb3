package ballot

import (
	"errors"
	"sort"
	"time"
)

// Choice represents a voter's current position.
type Choice string

const (
	ChoiceApprove Choice = "APPROVE"
	ChoiceDeny    Choice = "DENY"
	ChoiceAbstain Choice = "ABSTAIN"
)

var ErrInvalidChoice = errors.New("invalid ballot choice")

// ParseChoice validates a raw choice value.
func ParseChoice(raw string) (Choice, error) {
	switch Choice(raw) {
	case ChoiceApprove, ChoiceDeny, ChoiceAbstain:
		return Choice(raw), nil
	}
	return "", ErrInvalidChoice
}

// Ballot is one voter's live ballot within a session. A voter has at most
// one ballot per session; recasting overwrites in place.
type Ballot struct {
	SessionID string    `json:"sessionId"`
	Voter     string    `json:"voter"`
	Choice    Choice    `json:"choice"`
	Weight    int       `json:"weight"`
	CastAt    time.Time `json:"castAt"`
}

// Ledger holds the live ballots of a single session, keyed by voter.
type Ledger struct {
	ballots map[string]*Ballot
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{ballots: make(map[string]*Ballot)}
}

// Upsert records or replaces the voter's ballot and reports whether a
// previous ballot was overwritten.
func (l *Ledger) Upsert(b *Ballot) bool {
	_, existed := l.ballots[b.Voter]
	l.ballots[b.Voter] = b
	return existed
}

// Remove drops the voter's ballot if present.
func (l *Ledger) Remove(voter string) bool {
	if _, ok := l.ballots[voter]; !ok {
		return false
	}
	delete(l.ballots, voter)
	return true
}

// Get returns the voter's ballot, or nil.
func (l *Ledger) Get(voter string) *Ballot {
	return l.ballots[voter]
}

// Len returns the number of live ballots.
func (l *Ledger) Len() int {
	return len(l.ballots)
}

// Snapshot returns the ballots ordered by voter for deterministic tallying
// and rendering.
func (l *Ledger) Snapshot() []*Ballot {
	out := make([]*Ballot, 0, len(l.ballots))
	for _, b := range l.ballots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out
}
