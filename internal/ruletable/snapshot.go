package ruletable

import (
	"sort"

	"github.com/angeloszaimis/rule-proxy/internal/pattern"
)

// Snapshot is an immutable view of the table. enabled is sorted by
// specificity then creation order; byID also holds disabled rules.
type Snapshot struct {
	version uint64
	enabled []*entry
	byID    map[string]*entry
}

func emptySnapshot() *Snapshot {
	return &Snapshot{byID: make(map[string]*entry)}
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len counts all rules, enabled or not.
func (s *Snapshot) Len() int {
	return len(s.byID)
}

func (s *Snapshot) EnabledLen() int {
	return len(s.enabled)
}

func (s *Snapshot) Rule(id string) (Rule, bool) {
	e, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return e.rule, true
}

// Rules returns every rule in creation order.
func (s *Snapshot) Rules() []Rule {
	rules := make([]Rule, 0, len(s.byID))
	for _, e := range s.byID {
		rules = append(rules, e.rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Seq < rules[j].Seq
	})
	return rules
}

// MatchOrder returns the enabled rule ids in the order Match tries them.
func (s *Snapshot) MatchOrder() []string {
	ids := make([]string, len(s.enabled))
	for i, e := range s.enabled {
		ids[i] = e.rule.ID
	}
	return ids
}

// Match returns the first enabled rule whose pattern matches path. path must
// already be normalized with NormalizePath.
func (s *Snapshot) Match(path string) (Match, bool) {
	segments := pattern.SplitPath(path)

	for _, e := range s.enabled {
		if caps, ok := e.pattern.Match(segments); ok {
			return Match{Rule: e.rule, Captures: caps, target: e.target}, true
		}
	}

	return Match{}, false
}

func (s *Snapshot) cloneIndex() map[string]*entry {
	byID := make(map[string]*entry, len(s.byID)+1)
	for id, e := range s.byID {
		byID[id] = e
	}
	return byID
}

// insertSorted returns a new slice with e placed at its ordered position.
func insertSorted(list []*entry, e *entry) []*entry {
	i := sort.Search(len(list), func(i int) bool {
		return !less(list[i], e)
	})

	out := make([]*entry, 0, len(list)+1)
	out = append(out, list[:i]...)
	out = append(out, e)
	out = append(out, list[i:]...)
	return out
}

// removeSorted returns a new slice without the entry for e's rule id.
func removeSorted(list []*entry, e *entry) []*entry {
	i := sort.Search(len(list), func(i int) bool {
		return !less(list[i], e)
	})
	if i >= len(list) || list[i].rule.ID != e.rule.ID {
		// not at its ordered position; scan
		i = -1
		for j, candidate := range list {
			if candidate.rule.ID == e.rule.ID {
				i = j
				break
			}
		}
		if i < 0 {
			return list
		}
	}

	out := make([]*entry, 0, len(list)-1)
	out = append(out, list[:i]...)
	out = append(out, list[i+1:]...)
	return out
}
