package roster

import (
	"context"
	"strings"
)

// Static implements vote.PrivilegeChecker from a fixed actor list, the
// narrow stand-in for an external group-membership lookup. Matching is
// case-insensitive.
type Static struct {
	actors map[string]struct{}
}

// NewStatic builds a roster from actor identities.
func NewStatic(actors []string) *Static {
	set := make(map[string]struct{}, len(actors))
	for _, a := range actors {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			set[a] = struct{}{}
		}
	}
	return &Static{actors: set}
}

func (s *Static) IsPrivileged(ctx context.Context, actor string) (bool, error) {
	_, ok := s.actors[strings.ToLower(strings.TrimSpace(actor))]
	return ok, nil
}
