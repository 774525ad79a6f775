package session

import (
	"encoding/json"
	"os"
)

// isAbsent reports whether err represents a missing file, the case
// callers should treat as "no data yet" rather than a hard failure.
func isAbsent(err error) bool {
	return os.IsNotExist(err)
}

// Metadata is the structured contents of session.meta.json (spec §3.2).
// It is written once the worker signals readiness and updated on
// navigation (TargetID/WebSocketDebuggerURL change, StartTime unchanged).
type Metadata struct {
	DaemonPID            int      `json:"daemonPid"`
	WorkerPID            int      `json:"workerPid"`
	ChromePID            int      `json:"chromePid"`
	StartTime            int64    `json:"startTime"`
	Port                 int      `json:"port"`
	TargetID             string   `json:"targetId"`
	WebSocketDebuggerURL string   `json:"webSocketDebuggerUrl"`
	ActiveTelemetry      []string `json:"activeTelemetry"`
}

// Marshal renders m as indented JSON, ready for WriteAtomic.
func (m Metadata) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ReadMetadata loads session.meta.json, tolerating a missing file per
// spec §3.1 by returning (Metadata{}, false, nil) rather than an error.
func ReadMetadata(path string) (Metadata, bool, error) {
	data, err := ReadFileTolerant(path)
	if err != nil {
		if isAbsent(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, false, err
	}
	return m, true, nil
}

// WriteMetadata atomically persists m to path.
func WriteMetadata(path string, m Metadata) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return WriteAtomic(path, data)
}

// HasTelemetry reports whether kind ("network", "console", or "dom") is
// in ActiveTelemetry.
func (m Metadata) HasTelemetry(kind string) bool {
	for _, t := range m.ActiveTelemetry {
		if t == kind {
			return true
		}
	}
	return false
}
