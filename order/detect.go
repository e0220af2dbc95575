package order

import (
	"fmt"
	"sort"
	"strings"
)

// Divergence returns the first index at which the two orderings differ, or
// -1 when they are identical. Every entry from that index to the end must be
// re-positioned to realize the new order under append-only repositioning.
func Divergence(prev, next []string) int {
	n := len(prev)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		if prev[i] != next[i] {
			return i
		}
	}
	if len(prev) != len(next) {
		return n
	}
	return -1
}

// Reorder replaces a node's desired child order with names, which must be a
// permutation of the current children. Entries from the divergence point to
// the end are flagged as moved; flags set by earlier edits are kept, since
// clearing them could silently drop a still-pending move. Returns false when
// the new order is identical to the current one.
func (t *Tree) Reorder(id NodeID, names []string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reorderLocked(id, names)
}

func (t *Tree) reorderLocked(id NodeID, names []string) (bool, error) {
	current := t.nodes[id].children
	if len(names) != len(current) {
		return false, fmt.Errorf("order lists %d entries, directory has %d", len(names), len(current))
	}

	byName := make(map[string]NodeID, len(current))
	for _, c := range current {
		byName[t.nodes[c].name] = c
	}

	next := make([]NodeID, len(names))
	for i, name := range names {
		c, ok := byName[name]
		if !ok {
			return false, fmt.Errorf("unknown or duplicate entry %q", name)
		}
		delete(byName, name)
		next[i] = c
	}

	k := Divergence(t.childNamesLocked(id), names)
	if k == -1 {
		return false, nil
	}

	t.nodes[id].children = next
	for _, c := range next[k:] {
		t.nodes[c].moved = true
	}
	return true, nil
}

// MoveChild repositions a single child (a drag gesture) to toIndex. A drag
// toward the end of the level marks only the dragged entry: re-appending it
// alone realizes the order. A drag toward the front cannot be realized that
// way, so it falls back to divergence-point marking.
func (t *Tree) MoveChild(id NodeID, name string, toIndex int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	children := t.nodes[id].children
	from := -1
	for i, c := range children {
		if t.nodes[c].name == name {
			from = i
			break
		}
	}
	if from == -1 {
		return false, fmt.Errorf("no entry named %q", name)
	}
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(children)-1 {
		toIndex = len(children) - 1
	}
	if toIndex == from {
		return false, nil
	}

	moved := children[from]
	next := make([]NodeID, 0, len(children))
	next = append(next, children[:from]...)
	next = append(next, children[from+1:]...)
	next = append(next[:toIndex], append([]NodeID{moved}, next[toIndex:]...)...)
	t.nodes[id].children = next

	if toIndex > from {
		t.nodes[moved].moved = true
	} else {
		for _, c := range next[toIndex:] {
			t.nodes[c].moved = true
		}
	}
	return true, nil
}

// SortChildren sorts a node's desired child order by name, case-insensitive,
// and flags entries from the divergence point onward. Sorting always uses
// the divergence rule: over-marking is acceptable, under-marking is not.
func (t *Tree) SortChildren(id NodeID, descending bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := t.childNamesLocked(id)
	sort.SliceStable(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if descending {
			return a > b
		}
		return a < b
	})
	return t.reorderLocked(id, names)
}
