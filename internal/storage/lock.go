package storage

import (
	"os"
	"sync"
	"syscall"
)

// FileLock serializes writers of one session file, both within the process
// (mutex) and across processes sharing the directory (flock on a sidecar).
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock guarding path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (l *FileLock) acquire(how int) error {
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return err
	}
	l.file = f
	return nil
}

// Lock blocks until the lock is held.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	if err := l.acquire(syscall.LOCK_EX); err != nil {
		l.mu.Unlock()
		return err
	}
	return nil
}

// TryLock acquires the lock only if it is free.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	if err := l.acquire(syscall.LOCK_EX | syscall.LOCK_NB); err != nil {
		l.mu.Unlock()
		return false
	}
	return true
}

// Unlock releases the lock and removes the sidecar file.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + ".lock")
	l.file = nil
	l.mu.Unlock()
	return nil
}
