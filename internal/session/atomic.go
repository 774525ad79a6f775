package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path by writing to a sibling temp file and
// renaming it into place, so a reader never observes a partially written
// file (spec §3.1: "Atomic writes use write-to-temp-then-rename").
// Grounded on the teacher's writePIDFile (internal/daemon/daemon.go),
// generalized from a single WriteFile to temp-then-rename because this
// tree rewrites session.meta.json and session.preview.json repeatedly
// while a reader (the CLI, via daemon/worker IPC, or a crash-forensics
// operator) may be reading concurrently.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file into %s: %w", path, err)
	}
	return nil
}

// ReadFileTolerant reads path, retrying once after a brief absence. Spec
// §3.1 requires readers to "tolerate missing or partial files (retry once
// or treat as absent)" since a writer may be mid-rename.
func ReadFileTolerant(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	// One retry: the file may appear an instant later if a rename raced us.
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}
