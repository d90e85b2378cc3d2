package cache

import (
	"errors"

	"golang.org/x/sys/unix"
)

// publish moves tmp to path unless path already exists. It returns false if another writer published first.
func publish(tmp, path string) (bool, error) {
	err := unix.Renameat2(unix.AT_FDCWD, tmp, unix.AT_FDCWD, path, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EEXIST):
		return false, nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		// The kernel or filesystem does not support RENAME_NOREPLACE.
		return publishLink(tmp, path)
	default:
		return false, err
	}
}
