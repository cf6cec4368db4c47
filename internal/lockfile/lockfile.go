// Package lockfile keeps two TourneyPipe processes from sharing one state directory.
//
// The lock is an flock on a file inside the state directory, so the kernel
// releases it when the owning process exits, however it exits.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "tourneypipe.lock"

// ErrLocked is wrapped by LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another instance")

// Owner describes the process holding a lock. It is written into the lock file.
type Owner struct {
	PID       int       `json:"pid"`
	Platform  string    `json:"platform,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents an active directory lock.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Option configures AcquireLock.
type Option func(*Owner)

// WithPlatform records the chat platform the instance serves.
func WithPlatform(name string) Option {
	return func(o *Owner) { o.Platform = name }
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed. A held lock yields a *LockError describing the holder.
func AcquireLock(stateDir string, opts ...Option) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's info before we know whether we win the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadOwner(lockPath)
		slog.Error("AcquireLock: state directory is in use", "lockPath", lockPath, "holderPID", holder.PID)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), StartedAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(&owner)
	}
	if err := writeOwner(file, owner); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock owner to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lockPath", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath, owner: owner}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt(append(data, '\n'), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("AcquireLock: sync failed", "error", err)
	}
	return nil
}

// ReadOwner decodes the owner recorded in a lock file.
func ReadOwner(lockPath string) (Owner, error) {
	var owner Owner
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return owner, err
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return owner, fmt.Errorf("decode lock owner: %w", err)
	}
	return owner, nil
}

// Owner returns the owner recorded when the lock was taken.
func (l *Lock) Owner() Owner { return l.owner }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lockPath", l.path)
	return errors.Join(errs...)
}

// LockError reports a lock held by another process.
type LockError struct {
	LockPath string
	Holder   Owner
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another TourneyPipe instance is using this state directory (lock file %s)", e.LockPath)
	if e.Holder.PID > 0 {
		state := "running"
		if !isProcessRunning(e.Holder.PID) {
			state = "not running, the lock may be stale"
		}
		msg += fmt.Sprintf("; holder PID %d (%s)", e.Holder.PID, state)
		if !e.Holder.StartedAt.IsZero() {
			msg += ", started " + e.Holder.StartedAt.Format(time.RFC3339)
		}
	}
	return msg
}

func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}

// isProcessRunning sends signal 0, which checks for existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
