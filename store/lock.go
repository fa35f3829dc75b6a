package store

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("file is locked by another session")

// FileLock is an exclusive advisory lock held for the lifetime of a session.
type FileLock struct {
	fl *flock.Flock
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string {
	return path + ".lock"
}

// AcquireLock takes the exclusive lock for path without blocking.
func AcquireLock(path string) (*FileLock, error) {
	fl := flock.New(LockPath(path))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &FileLock{fl: fl}, nil
}

// Release drops the lock. Calling it more than once is harmless.
func (l *FileLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}
