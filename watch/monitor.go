package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"drive-order/journal"
)

// Monitor is a recursive filesystem change subscription on the selected
// root. Notifications are read-only with respect to the order model: they
// only produce journal lines. Enable and Disable implement Switch and are
// driven exclusively by the Coordinator.
type Monitor struct {
	jnl     *journal.Journal
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	root     string
	watching map[string]bool
	enabled  bool

	done chan struct{}
}

func NewMonitor(root string, jnl *journal.Journal) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		jnl:      jnl,
		watcher:  w,
		root:     root,
		watching: make(map[string]bool),
		done:     make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// SetRoot re-points the monitor at a newly selected folder. When the watch
// is currently enabled the subscription is rebuilt on the new root.
func (m *Monitor) SetRoot(root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = root
	if !m.enabled {
		return nil
	}
	m.unwatchAllLocked()
	return m.watchTreeLocked(root)
}

// Enable subscribes to the whole tree under the current root.
func (m *Monitor) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return nil
	}
	if err := m.watchTreeLocked(m.root); err != nil {
		m.unwatchAllLocked()
		return err
	}
	m.enabled = true
	return nil
}

// Disable drops every subscription. Events already queued are still drained
// by the run loop but no longer reported.
func (m *Monitor) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil
	}
	m.unwatchAllLocked()
	m.enabled = false
	return nil
}

func (m *Monitor) watchTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are simply not watched.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := m.watcher.Add(path); err != nil {
			return err
		}
		m.watching[path] = true
		return nil
	})
}

func (m *Monitor) unwatchAllLocked() {
	for path := range m.watching {
		// Errors are ignored: the path may already be gone.
		m.watcher.Remove(path)
	}
	m.watching = make(map[string]bool)
}

// Close shuts the monitor down for good.
func (m *Monitor) Close() error {
	close(m.done)
	return m.watcher.Close()
}

func (m *Monitor) run() {
	for {
		select {
		case <-m.done:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(event)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.jnl.Errorf("change monitor error: %v", err)
		}
	}
}

func (m *Monitor) handle(event fsnotify.Event) {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		m.jnl.Infof("change detected: created %s", event.Name)
		// New directories join the recursive subscription.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			m.mu.Lock()
			if m.enabled && !m.watching[event.Name] {
				if err := m.watcher.Add(event.Name); err == nil {
					m.watching[event.Name] = true
				}
			}
			m.mu.Unlock()
		}
	case event.Has(fsnotify.Remove):
		m.jnl.Infof("change detected: deleted %s", event.Name)
		m.mu.Lock()
		if m.watching[event.Name] {
			m.watcher.Remove(event.Name)
			delete(m.watching, event.Name)
		}
		m.mu.Unlock()
	case event.Has(fsnotify.Rename):
		// fsnotify reports the old path only; the new path shows up as a
		// separate create event.
		m.jnl.Infof("change detected: renamed %s", event.Name)
	case event.Has(fsnotify.Write):
		m.jnl.Infof("change detected: changed %s", event.Name)
	}
}
