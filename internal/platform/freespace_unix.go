//go:build unix

package platform

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path. Missing trailing components are skipped, so a
// download directory that does not exist yet reports its parent's space.
func FreeBytes(path string) (uint64, error) {
	dir := filepath.Clean(path)
	for {
		var st unix.Statfs_t
		err := unix.Statfs(dir, &st)
		if err == nil {
			return uint64(st.Bavail) * uint64(st.Bsize), nil //nolint:gosec,unconvert // G115: block size is positive
		}
		if !errors.Is(err, unix.ENOENT) {
			return 0, &os.PathError{Op: "statfs", Path: dir, Err: err}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, &os.PathError{Op: "statfs", Path: path, Err: err}
		}
		dir = parent
	}
}
