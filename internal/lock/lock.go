// Package lock provides advisory file locking for the cache's
// per-revision directories (spec §5: "The
// per-revision recipe directory in the cache is protected by an
// advisory lock... Readers take a shared lock; the single writer takes
// an exclusive lock. A missing lock file is healed.").
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory lock on a sibling ".lock" file. Call Unlock to
// release it.
type Lock struct {
	f         *os.File
	exclusive bool
}

// siblingLockPath returns the sibling lock file path for target, which is
// always target + ".lock" (e.g. ".../packages/foo/1.0.0/<revision>.lock"
// for a revision directory).
func siblingLockPath(target string) string {
	return target + ".lock"
}

// AcquireShared takes a shared (reader) advisory lock on target's
// sibling lock file, healing (creating) it if missing.
func AcquireShared(target string) (*Lock, error) {
	return acquire(target, unix.LOCK_SH, false)
}

// AcquireExclusive takes an exclusive (writer) advisory lock on target's
// sibling lock file, healing (creating) it if missing.
func AcquireExclusive(target string) (*Lock, error) {
	return acquire(target, unix.LOCK_EX, true)
}

func acquire(target string, how int, exclusive bool) (*Lock, error) {
	path := siblingLockPath(target)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}
	return &Lock{f: f, exclusive: exclusive}, nil
}

// Unlock releases the lock and closes the underlying file handle.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("lock: unlock: %w", err)
	}
	return closeErr
}

// Exclusive reports whether this lock was acquired as a writer lock.
func (l *Lock) Exclusive() bool { return l.exclusive }
