// Package session owns the on-disk session layout under ~/.bdg/ (spec
// §3.1): atomic temp-then-rename writes, PID/lock bookkeeping, session
// metadata and output types, and the session lifecycle state machine.
package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir returns the directory holding all session artifacts: $XDG_STATE_HOME/bdg
// when XDG_STATE_HOME is set, otherwise ~/.bdg, otherwise a per-uid
// directory under os.TempDir(). XDG_RUNTIME_DIR is not consulted.
func Dir() string {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, "bdg")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".bdg")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("bdg-%d", os.Getuid()))
}

// EnsureDir creates the session directory (owner-only) if missing.
func EnsureDir() (string, error) {
	dir := Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

// Path joins the session directory with a named artifact file.
func Path(name string) string {
	return filepath.Join(Dir(), name)
}

const (
	// LockFile holds the daemon PID; created via exclusive-create and
	// removed on stop (spec §3.1, §4.5 "Daemon singleton").
	LockFile = "session.lock"
	// WorkerPIDFile holds the worker PID once it becomes ready.
	WorkerPIDFile = "session.pid"
	// DaemonPIDFile holds the daemon PID, written at daemon start.
	DaemonPIDFile = "daemon.pid"
	// MetaFile holds SessionMetadata as JSON.
	MetaFile = "session.meta.json"
	// PreviewFile holds a bounded, rewritten-every-5s BdgOutput snapshot.
	PreviewFile = "session.preview.json"
	// OutputFile holds the final BdgOutput, written once on graceful stop.
	OutputFile = "session.json"
	// SocketFile is the daemon's Unix domain socket.
	SocketFile = "daemon.sock"
)

// LockPath, WorkerPIDPath, DaemonPIDPath, MetaPath, PreviewPath, OutputPath,
// and SocketPath resolve the fixed artifact names under Dir().
func LockPath() string      { return Path(LockFile) }
func WorkerPIDPath() string { return Path(WorkerPIDFile) }
func DaemonPIDPath() string { return Path(DaemonPIDFile) }
func MetaPath() string      { return Path(MetaFile) }
func PreviewPath() string   { return Path(PreviewFile) }
func OutputPath() string    { return Path(OutputFile) }
func SocketPath() string    { return Path(SocketFile) }
