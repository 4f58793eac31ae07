// Package migrate manages ordered data migrations against the FHIR store.
// Registered revisions form a linked chain (each names the revision it
// follows); the latest applied revision is persisted in a Basic resource.
package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Migration is one registered revision.
type Migration struct {
	ID   string
	Prev string // empty for the first revision
	Name string
	Up   func(ctx context.Context, env *Env) error
	Down func(ctx context.Context, env *Env) error
}

// CycleDetectedError reports a revision whose prev chain loops back on
// itself.  A cycle means the registry is corrupt; nothing can be applied.
type CycleDetectedError struct {
	Node string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("migrate: cycle detected at revision %s", e.Node)
}

// AmbiguousTipError reports a branched chain: more than one revision has
// no successor, so there is no single latest migration.
type AmbiguousTipError struct {
	Tips []string
}

func (e *AmbiguousTipError) Error() string {
	return fmt.Sprintf("migrate: ambiguous chain tip, candidates: %s", strings.Join(e.Tips, ", "))
}

// Sequence is a validated migration chain, ordered oldest first.
type Sequence struct {
	byID  map[string]*Migration
	order []string
}

// NewSequence validates the registered revisions: every prev must exist,
// the chain must be acyclic, and exactly one revision may be the tip.
func NewSequence(migrations []*Migration) (*Sequence, error) {
	byID := make(map[string]*Migration, len(migrations))
	for _, m := range migrations {
		if m.ID == "" {
			return nil, fmt.Errorf("migrate: revision with empty id (%s)", m.Name)
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("migrate: duplicate revision id %s", m.ID)
		}
		byID[m.ID] = m
	}
	for _, m := range byID {
		if m.Prev != "" {
			if _, ok := byID[m.Prev]; !ok {
				return nil, fmt.Errorf("migrate: revision %s references unknown prev %s", m.ID, m.Prev)
			}
		}
	}

	if err := detectCycles(byID); err != nil {
		return nil, err
	}

	tip, err := findTip(byID)
	if err != nil {
		return nil, err
	}

	// walk the prev chain from the tip and flip to oldest-first
	var order []string
	for id := tip; id != ""; id = byID[id].Prev {
		order = append(order, id)
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return &Sequence{byID: byID, order: order}, nil
}

// detectCycles walks every prev chain with a depth-first visiting set.
// Chains already proven clean on an earlier walk are skipped.
func detectCycles(byID map[string]*Migration) error {
	done := make(map[string]bool, len(byID))
	for start := range byID {
		if done[start] {
			continue
		}
		visiting := map[string]bool{}
		var path []string
		for id := start; id != ""; id = byID[id].Prev {
			if done[id] {
				break
			}
			if visiting[id] {
				return &CycleDetectedError{Node: id}
			}
			visiting[id] = true
			path = append(path, id)
		}
		for _, id := range path {
			done[id] = true
		}
	}
	return nil
}

// findTip returns the unique revision no other revision follows.
func findTip(byID map[string]*Migration) (string, error) {
	if len(byID) == 0 {
		return "", nil
	}
	followed := make(map[string]bool, len(byID))
	for _, m := range byID {
		if m.Prev != "" {
			followed[m.Prev] = true
		}
	}
	var tips []string
	for id := range byID {
		if !followed[id] {
			tips = append(tips, id)
		}
	}
	if len(tips) != 1 {
		sort.Strings(tips)
		return "", &AmbiguousTipError{Tips: tips}
	}
	return tips[0], nil
}

// Tip returns the latest revision id, or "" for an empty sequence.
func (s *Sequence) Tip() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[len(s.order)-1]
}

// Get returns the revision by id, or nil.
func (s *Sequence) Get(id string) *Migration {
	return s.byID[id]
}

// All returns the chain oldest first.
func (s *Sequence) All() []*Migration {
	out := make([]*Migration, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Previous returns the id applied immediately before the given revision,
// "" when it is the first.
func (s *Sequence) Previous(id string) (string, error) {
	m, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("migrate: unknown revision %s", id)
	}
	return m.Prev, nil
}

// Unapplied returns the revisions after appliedID, oldest first.  An empty
// appliedID means nothing has been applied yet: the full chain is due.
func (s *Sequence) Unapplied(appliedID string) ([]*Migration, error) {
	start := 0
	if appliedID != "" {
		found := false
		for i, id := range s.order {
			if id == appliedID {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("migrate: applied revision %s not in chain", appliedID)
		}
	}
	var out []*Migration
	for _, id := range s.order[start:] {
		out = append(out, s.byID[id])
	}
	return out, nil
}
