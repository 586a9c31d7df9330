// Package lock provides a per-partition advisory file lock so two runs never
// share one keyword's database and image directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// FileName is the lock file created inside each keyword partition.
const FileName = ".pinharvest.lock"

// FileLock implements pin.ProcessLock with O_EXCL lock files containing the
// holder's pid. A lock whose pid no longer maps to a live process is stale
// and gets reclaimed.
type FileLock struct {
	baseDir string
	logger  *zap.Logger
}

// New creates a FileLock rooted at the output directory.
func New(baseDir string, logger *zap.Logger) *FileLock {
	return &FileLock{baseDir: baseDir, logger: logger}
}

// Acquire takes the lock for the named partition. It returns false without
// error when a live process already holds it.
func (l *FileLock) Acquire(name string) (bool, error) {
	dir := filepath.Join(l.baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create partition dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return false, fmt.Errorf("write lock file: %w", firstErr(werr, cerr))
			}
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("create lock file: %w", err)
		}

		pid, perr := readPid(path)
		if perr == nil && processAlive(pid) {
			return false, nil
		}
		// Holder is gone (or the file is garbage): reclaim and retry once.
		l.logger.Warn("reclaiming stale lock",
			zap.String("path", path), zap.Int("stale_pid", pid))
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return false, fmt.Errorf("remove stale lock: %w", rerr)
		}
	}
	return false, nil
}

// Release removes the lock for the named partition. Releasing a lock held by
// another live process is refused.
func (l *FileLock) Release(name string) error {
	path := filepath.Join(l.baseDir, name, FileName)
	pid, err := readPid(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}
	if pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("lock %s held by pid %d: %w", name, pid, pin.ErrLockContention)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func readPid(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse lock pid: %w", err)
	}
	return pid, nil
}

// processAlive reports whether pid maps to a live process via signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
