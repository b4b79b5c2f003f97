package permission

import (
	"cmp"
	"errors"
	"slices"
)

// SegregationConflict reports that a permission set spans two duty groups
// declared mutually exclusive, e.g. "prescribing" and "dispensing".
type SegregationConflict struct {
	GroupA      string
	GroupB      string
	Permissions []ID
}

// DeclareConflict marks two segregation groups as mutually exclusive.
func (c *Catalog) DeclareConflict(groupA, groupB string) error {
	if groupA == "" || groupB == "" || groupA == groupB {
		return errors.Join(ErrInvalidPermission, errors.New("conflicting groups must be two distinct non-empty names"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts[newGroupPair(groupA, groupB)] = struct{}{}
	return nil
}

// SegregationConflicts lists every declared conflict the set violates.
func (c *Catalog) SegregationConflicts(ids ...ID) []SegregationConflict {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byGroup := make(map[string][]ID)
	for _, id := range NewSet(ids...).Slice() {
		p, ok := c.byID[id]
		if !ok || p.SegregationGroup == "" {
			continue
		}
		byGroup[p.SegregationGroup] = append(byGroup[p.SegregationGroup], id)
	}

	var out []SegregationConflict
	for pair := range c.conflicts {
		a, okA := byGroup[pair.a]
		b, okB := byGroup[pair.b]
		if !okA || !okB {
			continue
		}
		perms := append(slices.Clone(a), b...)
		slices.Sort(perms)
		out = append(out, SegregationConflict{GroupA: pair.a, GroupB: pair.b, Permissions: perms})
	}
	slices.SortFunc(out, func(x, y SegregationConflict) int {
		return cmp.Or(cmp.Compare(x.GroupA, y.GroupA), cmp.Compare(x.GroupB, y.GroupB))
	})
	return out
}
