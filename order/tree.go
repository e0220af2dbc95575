package order

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NodeID addresses a node inside a Tree's arena.
type NodeID int

// None is the id of a missing node (e.g. the root's parent).
const None NodeID = -1

type node struct {
	name     string
	path     string
	parent   NodeID
	children []NodeID
	moved    bool
}

// Tree is the order model: an arena of directory nodes. The order of each
// node's children slice is the authoritative desired order; the moved flag
// marks entries whose current position differs from the last physically
// applied one. An RWMutex lets the monitor's logging path resolve paths
// read-only while edits happen elsewhere.
type Tree struct {
	mu    sync.RWMutex
	nodes []node
}

// New creates a tree holding only a root node for the given directory.
func New(rootPath string) *Tree {
	return &Tree{nodes: []node{{
		name:   filepath.Base(rootPath),
		path:   rootPath,
		parent: None,
	}}}
}

// Scan builds a fresh tree by walking the immediate subdirectories of root
// recursively. Only directories are modeled; listing order is preserved as
// the initial desired order and no moved flags are set. Subdirectories that
// cannot be read are kept as leaves.
func Scan(root string) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	t := New(abs)
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	t.scanLevel(0, entries)
	return t, nil
}

func (t *Tree) scanLevel(id NodeID, entries []os.DirEntry) {
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		childID := t.Add(id, entry.Name())
		childEntries, err := os.ReadDir(t.Path(childID))
		if err != nil {
			// Unreadable subtree stays a leaf.
			continue
		}
		t.scanLevel(childID, childEntries)
	}
}

// Add appends a child with the given name to parent and returns its id.
func (t *Tree) Add(parent NodeID, name string) NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{
		name:   name,
		path:   filepath.Join(t.nodes[parent].path, name),
		parent: parent,
	})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

// Root returns the id of the root node.
func (t *Tree) Root() NodeID { return 0 }

// Len returns the total number of nodes including the root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Name returns the entry name of a node.
func (t *Tree) Name(id NodeID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].name
}

// Path returns the absolute path of a node.
func (t *Tree) Path(id NodeID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].path
}

// Parent returns the parent id, or None for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].parent
}

// Children returns a copy of a node's child ids in desired order.
func (t *Tree) Children(id NodeID) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeID, len(t.nodes[id].children))
	copy(out, t.nodes[id].children)
	return out
}

// ChildNames returns a node's child names in desired order.
func (t *Tree) ChildNames(id NodeID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.childNamesLocked(id)
}

func (t *Tree) childNamesLocked(id NodeID) []string {
	out := make([]string, len(t.nodes[id].children))
	for i, c := range t.nodes[id].children {
		out[i] = t.nodes[c].name
	}
	return out
}

// Moved reports whether a node's moved flag is set.
func (t *Tree) Moved(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].moved
}

// SetMoved sets or clears a node's moved flag.
func (t *Tree) SetMoved(id NodeID, moved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id].moved = moved
}

// HasPending reports whether any node in the tree is still flagged.
func (t *Tree) HasPending() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.nodes {
		if t.nodes[i].moved {
			return true
		}
	}
	return false
}

// FindByPath locates the node with the given absolute path. Descends only
// into the child that lies on the path to the target, so lookup cost is
// proportional to depth.
func (t *Tree) FindByPath(target string) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.findLocked(0, filepath.Clean(target))
}

func (t *Tree) findLocked(id NodeID, target string) (NodeID, bool) {
	if t.nodes[id].path == target {
		return id, true
	}
	// Trailing separators force exact path-component matching:
	// "/v/a/" prefixes "/v/a/b/" but not "/v/ab/".
	for _, c := range t.nodes[id].children {
		if strings.HasPrefix(target+string(filepath.Separator), t.nodes[c].path+string(filepath.Separator)) {
			return t.findLocked(c, target)
		}
	}
	return None, false
}
