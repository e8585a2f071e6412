package fetchctl

import (
	"os"

	"golang.org/x/sys/unix"
)

// Flock wraps an open file and provides advisory exclusive locking via
// flock(2), used to serialize concurrent fetch runs against the same
// cache directory.
type Flock struct {
	*os.File
}

// Lock acquires an exclusive, non-blocking lock on the underlying file.
// It returns an error immediately if the lock is already held.
func (f Flock) Lock() error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// Unlock releases the lock acquired by Lock.
func (f Flock) Unlock() error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
