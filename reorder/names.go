package reorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// nameAlloc hands out short scratch names. Short names matter on FAT-style
// volumes: a long name consumes extra directory-table slots, and the scratch
// directory exists precisely to avoid bloating the parent's table.
type nameAlloc struct {
	n int
}

// next returns the next scratch name: "0", "1", ... "z", "10", ...
func (a *nameAlloc) next() string {
	name := strconv.FormatInt(int64(a.n), 36)
	a.n++
	return name
}

// scratchDir picks an unused short directory name under parent for the
// relocation waypoint. The tilde prefix keeps it visibly temporary.
func scratchDir(fsys FS, parent string) (string, error) {
	for i := 0; i < 1296; i++ { // two base-36 digits
		candidate := filepath.Join(parent, "~"+strconv.FormatInt(int64(i), 36))
		if err := fsys.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return candidate, nil
			}
			return "", err
		}
	}
	return "", fmt.Errorf("no free scratch name under %s", parent)
}
