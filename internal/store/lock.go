package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// SessionLock provides cross-process advisory locking over a collection
// directory using gofrs/flock, so that at most one indexing session can
// hold the directory open for writes at a time. A competing TryLock
// failure surfaces as ConcurrentIndexWrite rather than silently
// interleaving two writers' changes.
type SessionLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewSessionLock creates a lock for the given collection directory. The
// lock file lives at <dir>/.indexing.lock.
func NewSessionLock(dir string) *SessionLock {
	lockPath := filepath.Join(dir, ".indexing.lock")
	return &SessionLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires the lock, blocking until it is available.
func (l *SessionLock) Lock() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. A false return
// with a nil error means another process currently holds it.
func (l *SessionLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked SessionLock.
func (l *SessionLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *SessionLock) Path() string {
	return l.path
}

// IsLocked reports whether this handle currently holds the lock.
func (l *SessionLock) IsLocked() bool {
	return l.locked
}
