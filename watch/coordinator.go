package watch

import (
	"sync"
	"time"

	"drive-order/journal"
)

// Switch is the enable/disable handle of an underlying change watch.
type Switch interface {
	Enable() error
	Disable() error
}

// Coordinator is the single synchronization point between the reorder thread
// and monitor-preference changes made elsewhere. The watch's actual enabled
// state is mutated only while the coordination lock is held; no other code
// path may touch it.
//
// Every state-changing call bumps a generation counter. A Resume captures
// the generation when it is scheduled; if anything newer has happened by the
// time its delay expires, it is a no-op rather than a race.
type Coordinator struct {
	mu       sync.Mutex
	watch    Switch
	jnl      *journal.Journal
	pref     bool
	enabled  bool
	inFlight bool
	gen      uint64
}

func NewCoordinator(watch Switch, jnl *journal.Journal) *Coordinator {
	return &Coordinator{watch: watch, jnl: jnl}
}

// Suspend disables the watch before a reorder so the engine's own moves do
// not feed back into the monitor.
func (c *Coordinator) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.inFlight = true
	c.setEnabledLocked(false)
}

// Resume schedules re-enabling of the watch after flushDelay, giving
// asynchronous writes from the reorder time to settle on disk. It runs on
// its own goroutine so scheduling never blocks the caller. The delay is
// always honored; the preference is read at the moment the lock is finally
// acquired, not at the moment of scheduling.
func (c *Coordinator) Resume(flushDelay time.Duration) {
	c.mu.Lock()
	c.inFlight = false
	gen := c.gen
	c.mu.Unlock()

	go func() {
		time.Sleep(flushDelay)
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.inFlight {
			// Superseded by a newer suspend or preference change, or a new
			// reorder started: its own end-of-operation resume is
			// authoritative.
			return
		}
		c.setEnabledLocked(c.pref)
	}()
}

// SetPreference updates the desired monitoring preference and applies it
// immediately unless a reorder is in flight.
func (c *Coordinator) SetPreference(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pref = on
	if c.inFlight {
		return
	}
	c.gen++
	c.setEnabledLocked(on)
}

// Enabled reports the watch's actual enabled state.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Preference reports the desired monitoring preference.
func (c *Coordinator) Preference() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pref
}

func (c *Coordinator) setEnabledLocked(on bool) {
	if on == c.enabled {
		return
	}
	var err error
	if on {
		err = c.watch.Enable()
	} else {
		err = c.watch.Disable()
	}
	if err != nil {
		if c.jnl != nil {
			c.jnl.Errorf("failed to switch change monitor to %v: %v", on, err)
		}
		return
	}
	c.enabled = on
}
