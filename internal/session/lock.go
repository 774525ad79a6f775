package session

import (
	"fmt"
	"os"
)

// ErrAlreadyRunning is returned by AcquireLock when a live daemon already
// holds session.lock.
type ErrAlreadyRunning struct {
	PID int
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("daemon already running (pid %d)", e.PID)
}

// AcquireLock implements the daemon-singleton rule in spec §4.5: acquire
// session.lock via exclusive create. If it already exists and names a
// live PID, the candidate daemon must not proceed. If it exists but the
// named PID is dead, remove the stale lock and retry exactly once.
//
// Grounded on the teacher's ipc.Server socket setup (NewServer in
// internal/ipc/server.go), which detects and removes a stale Unix socket
// before listening; AcquireLock applies the same "stale if the owning
// PID is dead" test to a lock file instead of a socket, since bdg's
// singleton is a process-wide daemon rather than a per-socket listener.
func AcquireLock(path string, pid int) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			if _, werr := f.WriteString(fmt.Sprintf("%d", pid)); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		existingPID, rerr := ReadPIDFile(path)
		if rerr == nil && IsProcessAlive(existingPID) {
			return nil, &ErrAlreadyRunning{PID: existingPID}
		}
		// Stale lock: owning PID is gone, or unreadable. Remove and retry once.
		os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire lock file %s after removing stale lock", path)
}
