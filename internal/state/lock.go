package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// LockRecord is the JSON body of a per-issue lock file.
type LockRecord struct {
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"`
	Hostname  string `json:"hostname"`
}

// ErrLocked reports that another live process holds the lock for an issue.
type ErrLocked struct {
	Issue int
	Path  string
	PID   int
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("issue %d is locked by running process %d (lock file %s)", e.Issue, e.PID, e.Path)
}

// Locker manages per-issue PID lock files under
// {baseDir}/orchestrator/locks/{issue}.lock.
//
// Acquisition is check-then-write, not atomic across processes: two
// processes starting at the same instant for the same issue can both
// succeed. This is accepted for the single-human-operator use case; the
// lock exists to catch the common overlap, not to provide a guarantee.
type Locker struct {
	baseDir string
}

// NewLocker creates a Locker rooted at baseDir.
func NewLocker(baseDir string) *Locker {
	return &Locker{baseDir: baseDir}
}

// Path returns the lock file path for an issue.
func (l *Locker) Path(issue int) string {
	return filepath.Join(l.baseDir, "orchestrator", "locks", strconv.Itoa(issue)+".lock")
}

// Acquire takes the lock for an issue. A lock whose recorded PID is no
// longer running is stale and silently reclaimed. A live lock returns
// *ErrLocked.
func (l *Locker) Acquire(issue int) error {
	path := l.Path(issue)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir lock dir: %w", err)
	}

	if rec, err := readLock(path); err == nil {
		if processAlive(rec.PID) {
			return &ErrLocked{Issue: issue, Path: path, PID: rec.PID}
		}
		// Stale lock from a dead process.
		_ = os.Remove(path)
	}

	hostname, _ := os.Hostname()
	rec := LockRecord{
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostname,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write lock file %s: %w", path, err)
	}
	return nil
}

// Release removes the lock file. A missing file is not an error.
func (l *Locker) Release(issue int) error {
	err := os.Remove(l.Path(issue))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// readLock parses a lock file. Undecodable lock files are reported as
// errors so the caller treats them as absent and overwrites.
func readLock(path string) (*LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock file %s: %w", path, err)
	}
	if rec.PID <= 0 {
		return nil, fmt.Errorf("lock file %s has no pid", path)
	}
	return &rec, nil
}

// processAlive reports whether a process with the given PID exists.
// Signal 0 performs the existence check without delivering anything;
// EPERM means the process exists but belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
