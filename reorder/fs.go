package reorder

import (
	"os"

	"github.com/otiai10/copy"
)

// FS is the set of filesystem capabilities the engine consumes. Every
// operation may fail with an I/O error; the engine treats each failure as
// local to the entry being processed.
type FS interface {
	// Stat verifies that path still resolves; used to detect a volume
	// disappearing mid-operation.
	Stat(path string) error
	// Rename moves an entry within the volume. On append-ordered volumes
	// the destination entry is appended to the end of its directory table.
	Rename(oldpath, newpath string) error
	// Mkdir creates a single directory.
	Mkdir(path string) error
	// Remove deletes an empty directory.
	Remove(path string) error
	// Salvage is the last-resort move used when a plain rename out of the
	// scratch directory fails: copy the subtree to dst, then remove src.
	Salvage(src, dst string) error
}

// OSFS implements FS on the real filesystem.
type OSFS struct{}

func (OSFS) Stat(path string) error {
	_, err := os.Stat(path)
	return err
}

func (OSFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (OSFS) Mkdir(path string) error {
	return os.Mkdir(path, 0755)
}

func (OSFS) Remove(path string) error {
	return os.Remove(path)
}

func (OSFS) Salvage(src, dst string) error {
	if err := copy.Copy(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}
