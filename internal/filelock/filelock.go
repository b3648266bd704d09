// Package filelock wraps flock(2) advisory locks on open files.
//
// Advisory locks only exclude processes that also take them. Every writer in
// this module goes through this package, but a foreign process that writes
// the same files without locking is not excluded.
package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock blocks until an exclusive lock on f is held.
func Lock(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("flock %s: %w", f.Name(), err)
		}
		return nil
	}
}

// Unlock releases a lock taken with Lock.
func Unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", f.Name(), err)
	}
	return nil
}

// With runs fn while holding an exclusive lock on f.
func With(f *os.File, fn func() error) error {
	if err := Lock(f); err != nil {
		return err
	}
	fnErr := fn()
	if err := Unlock(f); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
