package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelsAndEntries(t *testing.T) {
	jnl, err := Open("")
	require.NoError(t, err)
	defer jnl.Close()

	jnl.Infof("scanned %d directories", 3)
	jnl.Warnf("scratch removal failed")
	jnl.Severef("entry %q stranded", "B")

	entries := jnl.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, Info, entries[0].Level)
	assert.Equal(t, "scanned 3 directories", entries[0].Message)
	assert.Equal(t, Warn, entries[1].Level)
	assert.Equal(t, Severe, entries[2].Level)
	assert.Equal(t, "SEVERE", entries[2].Level.String())

	// Sequence numbers are strictly increasing.
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Less(t, entries[1].Seq, entries[2].Seq)
}

func TestSubscribe(t *testing.T) {
	jnl, err := Open("")
	require.NoError(t, err)
	defer jnl.Close()

	sub := jnl.Subscribe()
	jnl.Infof("hello")

	select {
	case entry := <-sub:
		assert.Equal(t, "hello", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the entry")
	}

	jnl.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open, "unsubscribed channel must be closed")
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	jnl, err := Open(path)
	require.NoError(t, err)
	jnl.Infof("first")
	jnl.Errorf("second")
	require.NoError(t, jnl.Close())

	jnl, err = Open(path)
	require.NoError(t, err)
	defer jnl.Close()

	stored, err := jnl.Stored()
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "first", stored[0].Message)
	assert.Equal(t, Error, stored[1].Level)

	// New entries continue the sequence instead of overwriting old ones.
	jnl.Infof("third")
	stored, err = jnl.Stored()
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "third", stored[2].Message)
}

func TestMemoryCap(t *testing.T) {
	jnl, err := Open("")
	require.NoError(t, err)
	defer jnl.Close()

	for i := 0; i < memoryCap+10; i++ {
		jnl.Infof("entry %d", i)
	}
	assert.Len(t, jnl.Entries(), memoryCap)
}
