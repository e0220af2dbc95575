package watch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drive-order/journal"
)

func journalContains(jnl *journal.Journal, substr string) func() bool {
	return func() bool {
		for _, entry := range jnl.Entries() {
			if strings.Contains(entry.Message, substr) {
				return true
			}
		}
		return false
	}
}

func TestMonitorReportsChangesWhenEnabled(t *testing.T) {
	root := t.TempDir()
	jnl, err := journal.Open("")
	require.NoError(t, err)

	m, err := NewMonitor(root, jnl)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Enable())

	created := filepath.Join(root, "album")
	require.NoError(t, os.Mkdir(created, 0755))
	require.Eventually(t, journalContains(jnl, created), 3*time.Second, 50*time.Millisecond)

	// New directories join the recursive subscription.
	nested := filepath.Join(created, "disc1")
	require.Eventually(t, func() bool {
		// The watch on the new directory is added asynchronously; retry the
		// nested create until it is observed.
		os.RemoveAll(nested)
		if err := os.Mkdir(nested, 0755); err != nil {
			return false
		}
		time.Sleep(100 * time.Millisecond)
		return journalContains(jnl, nested)()
	}, 5*time.Second, 200*time.Millisecond)
}

func TestMonitorSilentWhenDisabled(t *testing.T) {
	root := t.TempDir()
	jnl, err := journal.Open("")
	require.NoError(t, err)

	m, err := NewMonitor(root, jnl)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Enable())
	require.NoError(t, m.Disable())

	created := filepath.Join(root, "quiet")
	require.NoError(t, os.Mkdir(created, 0755))
	time.Sleep(300 * time.Millisecond)

	require.False(t, journalContains(jnl, created)(), "disabled monitor must not report changes")
}
