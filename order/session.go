package order

import (
	"errors"
	"sync"
)

// State of the editing session.
type State int

const (
	// Clean: the filesystem matches the desired order.
	Clean State = iota
	// Dirty: at least one edit has not been physically applied.
	Dirty
	// Sorting: a reorder is running; edits and further applies are rejected.
	Sorting
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Sorting:
		return "sorting"
	default:
		return "unknown"
	}
}

// ErrBusy is returned while a reorder is in flight. A second apply is
// rejected outright, never queued.
var ErrBusy = errors.New("a reorder is already in progress")

// ErrNoChanges is returned when an apply is requested with nothing pending.
var ErrNoChanges = errors.New("no pending order changes")

// Session is the state machine replacing ad hoc "unsaved changes" and
// "busy" booleans.
type Session struct {
	mu    sync.Mutex
	state State
}

func NewSession() *Session { return &Session{} }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EditOccurred records an order edit: Clean|Dirty -> Dirty.
func (s *Session) EditOccurred() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Sorting {
		return ErrBusy
	}
	s.state = Dirty
	return nil
}

// ApplyRequested transitions Dirty -> Sorting.
func (s *Session) ApplyRequested() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Sorting:
		return ErrBusy
	case Clean:
		return ErrNoChanges
	}
	s.state = Sorting
	return nil
}

// ApplyCompleted transitions Sorting -> Clean. A no-op in any other state.
func (s *Session) ApplyCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Sorting {
		s.state = Clean
	}
}

// Reset returns the session to Clean, used when a new folder is selected.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Sorting {
		s.state = Clean
	}
}
