package resolver

import (
	"sort"

	"github.com/ztpkit/ztpkit/pkg/stores"
)

// RankedGroup is a group reached from a device's memberships, with the shallowest
// depth at which it was reached.
type RankedGroup struct {
	Group *stores.Group
	Depth int
}

// Order walks parent_id upward from every direct membership and returns the touched
// non-root groups sorted by (depth, precedence, id) ascending.
//
// Depth 0 is the "all" group and grows by one per hop away from it. A walk that ends
// without reaching "all" (revisited node or dangling parent) treats its topmost group
// as a direct child of "all".
func Order(groups map[int64]*stores.Group, memberships []int64) []RankedGroup {
	depths := make(map[int64]int)

	for _, start := range memberships {
		chain := ancestry(groups, start)
		if len(chain) == 0 {
			continue
		}

		top := len(chain)
		if chain[len(chain)-1] == stores.AllGroupID {
			top = len(chain) - 1
		}
		for i, id := range chain {
			if id == stores.AllGroupID {
				continue
			}
			d := top - i
			if cur, ok := depths[id]; !ok || d < cur {
				depths[id] = d
			}
		}
	}

	ranked := make([]RankedGroup, 0, len(depths))
	for id, d := range depths {
		ranked = append(ranked, RankedGroup{Group: groups[id], Depth: d})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Group.Precedence != b.Group.Precedence {
			return a.Group.Precedence < b.Group.Precedence
		}
		return a.Group.ID < b.Group.ID
	})
	return ranked
}

// ancestry returns start followed by its ancestors, ending at "all", at a dangling
// parent, or just before a node already seen in this walk.
func ancestry(groups map[int64]*stores.Group, start int64) []int64 {
	visited := make(map[int64]bool)
	var chain []int64

	id := start
	for {
		g, ok := groups[id]
		if !ok || visited[id] {
			return chain
		}
		visited[id] = true
		chain = append(chain, id)

		if id == stores.AllGroupID || g.ParentID == nil {
			return chain
		}
		id = *g.ParentID
	}
}

// WouldCreateCycle reports whether setting groupID's parent to newParentID would make
// the group graph cyclic. It is true when the two are the same group or when
// newParentID is a descendant of groupID.
func WouldCreateCycle(groups []*stores.Group, groupID, newParentID int64) bool {
	if groupID == newParentID {
		return true
	}

	byID := make(map[int64]*stores.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	visited := make(map[int64]bool)
	id := newParentID
	for {
		if id == groupID {
			return true
		}
		g, ok := byID[id]
		if !ok || visited[id] || g.ParentID == nil {
			return false
		}
		visited[id] = true
		id = *g.ParentID
	}
}
