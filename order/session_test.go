package order

import (
	"errors"
	"testing"
)

func TestSessionTransitions(t *testing.T) {
	s := NewSession()

	if s.State() != Clean {
		t.Fatalf("New session should be clean, got %s", s.State())
	}

	if err := s.ApplyRequested(); !errors.Is(err, ErrNoChanges) {
		t.Errorf("Apply on clean session: got %v, want ErrNoChanges", err)
	}

	if err := s.EditOccurred(); err != nil {
		t.Fatalf("EditOccurred failed: %v", err)
	}
	if s.State() != Dirty {
		t.Fatalf("State after edit = %s, want dirty", s.State())
	}

	// A second edit keeps the session dirty.
	if err := s.EditOccurred(); err != nil || s.State() != Dirty {
		t.Errorf("Repeated edit: err=%v state=%s", err, s.State())
	}

	if err := s.ApplyRequested(); err != nil {
		t.Fatalf("ApplyRequested failed: %v", err)
	}
	if s.State() != Sorting {
		t.Fatalf("State after apply request = %s, want sorting", s.State())
	}

	// A second apply is rejected outright, not queued.
	if err := s.ApplyRequested(); !errors.Is(err, ErrBusy) {
		t.Errorf("Concurrent apply: got %v, want ErrBusy", err)
	}
	// Edits are rejected while sorting.
	if err := s.EditOccurred(); !errors.Is(err, ErrBusy) {
		t.Errorf("Edit while sorting: got %v, want ErrBusy", err)
	}

	s.ApplyCompleted()
	if s.State() != Clean {
		t.Fatalf("State after completion = %s, want clean", s.State())
	}
}

func TestSessionResetIgnoredWhileSorting(t *testing.T) {
	s := NewSession()
	s.EditOccurred()
	s.ApplyRequested()

	s.Reset()
	if s.State() != Sorting {
		t.Errorf("Reset while sorting should be ignored, got %s", s.State())
	}

	s.ApplyCompleted()
	s.EditOccurred()
	s.Reset()
	if s.State() != Clean {
		t.Errorf("Reset should return to clean, got %s", s.State())
	}
}
