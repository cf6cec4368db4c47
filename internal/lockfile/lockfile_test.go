package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	lock, err := AcquireLock(dir, WithPlatform("discord"))
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	owner, err := ReadOwner(lock.Path())
	if err != nil {
		t.Fatalf("ReadOwner failed: %v", err)
	}
	if owner.PID != os.Getpid() || owner.Platform != "discord" {
		t.Errorf("unexpected owner %+v", owner)
	}
	if lock.Owner().PID != owner.PID {
		t.Error("Owner() disagrees with the lock file")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer first.Release()

	// flock locks are per open file description, so a second open in the same
	// process conflicts just like another process would.
	_, err = AcquireLock(dir)
	if err == nil {
		t.Fatal("expected the second acquisition to fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if !errors.Is(err, ErrLocked) {
		t.Error("LockError should wrap ErrLocked")
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("holder PID not reported: %+v", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), "(running)") {
		t.Errorf("message should report a running holder: %s", err)
	}

	// The failed attempt must not clobber the holder's record.
	if owner, err := ReadOwner(first.Path()); err != nil || owner.PID != os.Getpid() {
		t.Errorf("holder record damaged: %+v %v", owner, err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		lock, err := AcquireLock(dir)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
}

func TestLockErrorStaleHolder(t *testing.T) {
	e := &LockError{LockPath: "/tmp/x.lock", Holder: Owner{PID: 999999}}
	if !strings.Contains(e.Error(), "stale") {
		t.Errorf("expected stale hint, got %s", e.Error())
	}
	if strings.Contains((&LockError{LockPath: "/tmp/x.lock"}).Error(), "PID") {
		t.Error("unknown holder should not print a PID")
	}
}

func TestReadOwnerErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadOwner(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing file")
	}
	bad := filepath.Join(dir, "bad.lock")
	if err := os.WriteFile(bad, []byte("pid=12"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadOwner(bad); err == nil {
		t.Error("expected decode error")
	}
}
