package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drive-order/journal"
)

type fakeSwitch struct {
	mu      sync.Mutex
	enabled bool
}

func (s *fakeSwitch) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	return nil
}

func (s *fakeSwitch) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	return nil
}

func (s *fakeSwitch) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSwitch) {
	t.Helper()
	jnl, err := journal.Open("")
	require.NoError(t, err)
	sw := &fakeSwitch{}
	return NewCoordinator(sw, jnl), sw
}

func TestSuspendResumeConvergence(t *testing.T) {
	c, sw := newTestCoordinator(t)

	c.SetPreference(true)
	require.True(t, sw.isEnabled())

	c.Suspend()
	require.False(t, sw.isEnabled())

	c.Resume(500 * time.Millisecond)

	// The watch stays off for the whole flush delay...
	require.Never(t, sw.isEnabled, 400*time.Millisecond, 20*time.Millisecond)
	// ...then converges to the current preference.
	require.Eventually(t, sw.isEnabled, 2*time.Second, 20*time.Millisecond)
	assert.True(t, c.Enabled())
}

func TestStaleResumeIsNoOp(t *testing.T) {
	c, sw := newTestCoordinator(t)
	c.SetPreference(true)

	c.Suspend()
	c.Resume(100 * time.Millisecond)

	// A second reorder starts before the first resume fires: that resume is
	// stale and must not re-enable the watch mid-operation.
	c.Suspend()
	time.Sleep(300 * time.Millisecond)
	require.False(t, sw.isEnabled(), "stale resume fired during the new reorder")

	c.Resume(50 * time.Millisecond)
	require.Eventually(t, sw.isEnabled, 2*time.Second, 20*time.Millisecond)
}

func TestResumeReadsPreferenceAtFireTime(t *testing.T) {
	c, sw := newTestCoordinator(t)
	c.SetPreference(true)

	c.Suspend()
	c.Resume(150 * time.Millisecond)

	// The preference flips off mid-delay: the watch must stay disabled no
	// matter when the scheduled resume wakes up.
	c.SetPreference(false)
	time.Sleep(400 * time.Millisecond)
	assert.False(t, sw.isEnabled())
	assert.False(t, c.Preference())

	// Turning the preference back on applies immediately: nothing in flight.
	c.SetPreference(true)
	assert.True(t, sw.isEnabled())
}

func TestPreferenceDeferredWhileInFlight(t *testing.T) {
	c, sw := newTestCoordinator(t)

	c.Suspend()
	c.SetPreference(true)
	require.False(t, sw.isEnabled(), "preference must not touch the watch while a reorder is in flight")

	c.Resume(50 * time.Millisecond)
	require.Eventually(t, sw.isEnabled, 2*time.Second, 10*time.Millisecond,
		"end-of-operation resume applies the deferred preference")
}

func TestSuspendIsIdempotent(t *testing.T) {
	c, sw := newTestCoordinator(t)
	c.SetPreference(true)

	c.Suspend()
	c.Suspend()
	require.False(t, sw.isEnabled())

	c.Resume(20 * time.Millisecond)
	require.Eventually(t, sw.isEnabled, 2*time.Second, 10*time.Millisecond)
}
