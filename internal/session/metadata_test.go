package session

import (
	"path/filepath"
	"testing"
)

func TestMetadata_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.meta.json")

	m := Metadata{
		DaemonPID:            100,
		WorkerPID:            200,
		ChromePID:            300,
		StartTime:            1700000000000,
		Port:                 9222,
		TargetID:             "abc123",
		WebSocketDebuggerURL: "ws://127.0.0.1:9222/devtools/page/abc123",
		ActiveTelemetry:      []string{"network", "console"},
	}

	if err := WriteMetadata(path, m); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	got, ok, err := ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if !ok {
		t.Fatal("expected metadata to be present")
	}
	if got.DaemonPID != m.DaemonPID || got.WorkerPID != m.WorkerPID ||
		got.ChromePID != m.ChromePID || got.Port != m.Port ||
		got.TargetID != m.TargetID || len(got.ActiveTelemetry) != len(m.ActiveTelemetry) {
		t.Fatalf("got %+v want %+v", got, m)
	}
	if !got.HasTelemetry("network") || got.HasTelemetry("dom") {
		t.Fatalf("unexpected HasTelemetry result: %+v", got.ActiveTelemetry)
	}
}

func TestReadMetadata_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ReadMetadata(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("expected no error for a missing metadata file, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing metadata file")
	}
}
