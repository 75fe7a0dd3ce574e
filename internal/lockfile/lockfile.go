// Package lockfile provides directory-based locking so only one LeadPipe
// instance polls a given state directory.
//
// Telegram rejects concurrent getUpdates long-polls for the same bot token,
// so polling mode takes an exclusive flock that the kernel releases
// automatically when the process exits, gracefully or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "leadpipe.lock"

// Lock represents an active state directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock attempts to acquire an exclusive lock on the state directory.
// When the lock is already held, the returned LockError describes the
// conflicting process.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory for lock", "error", err, "state_dir", stateDir)
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		slog.Error("Failed to open lock file", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		info := readExistingLockInfo(lockPath)
		slog.Error("Failed to acquire lock, another LeadPipe instance is running",
			"error", err, "lock_path", lockPath, "existing_lock_info", info)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: info, Cause: err}
	}

	if _, err := file.WriteString(fmt.Sprintf("pid=%d\n", os.Getpid())); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		slog.Error("Failed to write lock information", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", lockPath)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Release releases the lock and removes the lock file.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		slog.Error("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.acquired = false
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// LockError is returned when the lock is held by another process.
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another LeadPipe instance is already running using the same state directory (lock file: %s)", e.LockPath)
	if e.ExistingInfo != "" {
		msg += fmt.Sprintf("; existing process: %s", e.ExistingInfo)
	}
	msg += fmt.Sprintf("; if no other instance is running, remove the stale lock with: rm %s", e.LockPath)
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readExistingLockInfo reads the holder's pid from an existing lock file and
// reports whether that process is still alive.
func readExistingLockInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "lock file exists but contains no process information"
	}
	if pid := extractPID(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running - stale lock)", pid)
	}
	return content
}

// extractPID pulls the number out of a "pid=NNNN" line.
func extractPID(content string) int {
	const prefix = "pid="
	idx := strings.Index(content, prefix)
	if idx < 0 {
		return 0
	}
	rest := content[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return pid
}

// isProcessRunning probes a pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
