package reorder

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"drive-order/journal"
	"drive-order/order"
)

// Engine walks the order model and performs the minimal physical move
// sequence per level. An entry is repositioned with a scratch round trip:
// moved into the scratch directory under a short name, then moved back out
// under its original name, which re-appends it at the end of the parent's
// directory table. Performed in ascending index order for every entry after
// the first change point, this reconstructs the desired enumeration order.
//
// Apply never returns an error: every failure is local to one entry or one
// subtree, surfaced through the journal, and processing continues.
type Engine struct {
	fs  FS
	jnl *journal.Journal

	processed int64
	total     int64
	moves     int64
	failures  int64
}

func New(fsys FS, jnl *journal.Journal) *Engine {
	return &Engine{fs: fsys, jnl: jnl}
}

// Percent reports fractional progress 0-100 of the current or last Apply,
// proportional to the count of top-level children processed. Nested levels
// report no incremental progress.
func (e *Engine) Percent() int {
	total := atomic.LoadInt64(&e.total)
	if total <= 0 {
		return 0
	}
	return int(atomic.LoadInt64(&e.processed) * 100 / total)
}

// Moves returns the number of completed scratch round trips in the current
// or last Apply.
func (e *Engine) Moves() int64 { return atomic.LoadInt64(&e.moves) }

// Failures returns the number of entries or subtrees that hit an error.
func (e *Engine) Failures() int64 { return atomic.LoadInt64(&e.failures) }

// Apply physically reorders the immediate children of the tree's root to
// match their desired order, recursing into every child regardless of
// whether the child itself moved. Flags are cleared as entries reach their
// applied positions.
func (e *Engine) Apply(t *order.Tree) {
	root := t.Root()
	atomic.StoreInt64(&e.processed, 0)
	atomic.StoreInt64(&e.moves, 0)
	atomic.StoreInt64(&e.failures, 0)
	atomic.StoreInt64(&e.total, int64(len(t.Children(root))))

	e.jnl.Infof("applying order under %s", t.Path(root))
	e.applyLevel(t, root, true)
	e.jnl.Infof("apply finished: %d entries repositioned, %d failures",
		atomic.LoadInt64(&e.moves), atomic.LoadInt64(&e.failures))
}

func (e *Engine) applyLevel(t *order.Tree, id order.NodeID, root bool) {
	children := t.Children(id)
	if len(children) == 0 {
		return
	}

	parentPath := t.Path(id)
	var scratch string
	var names nameAlloc
	changeSeen := false

	for i, childID := range children {
		name := t.Name(childID)
		childPath := t.Path(childID)

		if err := e.fs.Stat(childPath); err != nil {
			// The entry's own path no longer resolves, e.g. the volume was
			// disconnected mid-operation. Abort this subtree only.
			e.jnl.Warnf("cannot resolve %q, skipping its subtree: %v", name, err)
			atomic.AddInt64(&e.failures, 1)
			if root {
				atomic.AddInt64(&e.processed, 1)
			}
			continue
		}

		stranded := false
		if i == 0 {
			// The first entry is never moved physically: moving every later
			// entry to the end naturally leaves index 0 first.
			if t.Moved(childID) {
				t.SetMoved(childID, false)
			}
		} else {
			if t.Moved(childID) {
				changeSeen = true
			}
			if changeSeen {
				stranded = e.roundTrip(t, childID, parentPath, childPath, name, &scratch, &names)
			}
			// Before the first change point the relative position is
			// already correct; the child is only recursed into.
		}

		if !stranded {
			e.recurse(t, childID)
		}
		if root {
			atomic.AddInt64(&e.processed, 1)
		}
	}

	if scratch != "" {
		if err := e.fs.Remove(scratch); err != nil && !os.IsNotExist(err) {
			e.jnl.Warnf("failed to remove scratch directory %s: %v", scratch, err)
		}
	}
}

// roundTrip relocates one entry through the scratch directory so it is
// re-appended at the end of the parent's directory table. Reports whether
// the entry ended up stranded away from its original path.
func (e *Engine) roundTrip(t *order.Tree, id order.NodeID, parentPath, childPath, name string, scratch *string, names *nameAlloc) bool {
	if *scratch == "" {
		path, err := scratchDir(e.fs, parentPath)
		if err == nil {
			err = e.fs.Mkdir(path)
		}
		if err != nil {
			e.jnl.Warnf("failed to create scratch directory under %s: %v", parentPath, err)
			atomic.AddInt64(&e.failures, 1)
			return false
		}
		*scratch = path
	}

	scratchPath := filepath.Join(*scratch, names.next())

	if err := e.fs.Rename(childPath, scratchPath); err != nil {
		e.jnl.Warnf("failed to relocate %q to scratch: %v", name, err)
		atomic.AddInt64(&e.failures, 1)
		return false
	}

	if err := e.fs.Rename(scratchPath, childPath); err != nil {
		// The entry sits in scratch; without intervention this is visible
		// data loss, hence the maximum severity.
		e.jnl.Severef("failed to move %q back out of scratch (left at %s): %v", name, scratchPath, err)
		atomic.AddInt64(&e.failures, 1)

		if serr := e.fs.Salvage(scratchPath, childPath); serr != nil {
			e.jnl.Severef("salvage of %q failed, entry stranded in scratch: %v", name, serr)
			return true
		}
		e.jnl.Warnf("salvaged %q out of scratch by copy", name)
		t.SetMoved(id, false)
		atomic.AddInt64(&e.moves, 1)
		return false
	}

	t.SetMoved(id, false)
	atomic.AddInt64(&e.moves, 1)
	e.jnl.Infof("repositioned %q", name)
	return false
}

// recurse descends into a child's own children. Anything unexpected deeper
// in the subtree is caught here so sibling processing continues; no retry is
// ever performed.
func (e *Engine) recurse(t *order.Tree, id order.NodeID) {
	defer func() {
		if r := recover(); r != nil {
			e.jnl.Errorf("unexpected failure while processing %q: %v", t.Name(id), r)
			atomic.AddInt64(&e.failures, 1)
		}
	}()
	e.applyLevel(t, id, false)
}
