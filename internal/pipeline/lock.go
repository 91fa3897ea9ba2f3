package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// singletonLock is a cross-process advisory file lock. Only one worker per
// host may hold it; a second process stays in standby.
type singletonLock struct {
	path string
	file *os.File
}

func newSingletonLock(path string) *singletonLock {
	return &singletonLock{path: path}
}

// TryAcquire takes the lock without blocking. It returns false when another
// process holds it.
func (l *singletonLock) TryAcquire() bool {
	if l.file != nil {
		return true
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return false
	}
	_ = file.Truncate(0)
	_, _ = file.WriteAt([]byte(fmt.Sprintf("%d", os.Getpid())), 0)
	l.file = file
	return true
}

// Release drops the lock. Safe to call when not held.
func (l *singletonLock) Release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
