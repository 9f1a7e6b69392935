package cli

import (
	"path/filepath"
	"strings"
	"testing"

	sybilscope "github.com/elda27/sybil-scope"
)

func TestRunExportRoundTrips(t *testing.T) {
	trace := writeFixture(t, validTrace)

	// Reset flags.
	exportDB = filepath.Join(t.TempDir(), "traces.db")

	if err := runExport(nil, []string{trace}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	backend, err := sybilscope.NewSQLiteBackend(exportDB)
	if err != nil {
		t.Fatalf("failed to open exported database: %v", err)
	}
	defer backend.Close()

	events, err := backend.Events()
	if err != nil {
		t.Fatalf("failed to read exported events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i, e := range events {
		if e.ID != int64(i+1) {
			t.Errorf("event %d: got id %d, want %d", i, e.ID, i+1)
		}
	}
	if events[3].Duration == nil || *events[3].Duration != 500 {
		t.Errorf("closing event lost its duration: %+v", events[3])
	}
}

func TestRunExportRefusesDuplicateIDs(t *testing.T) {
	trace := writeFixture(t, validTrace)

	// Reset flags.
	exportDB = filepath.Join(t.TempDir(), "traces.db")

	if err := runExport(nil, []string{trace}); err != nil {
		t.Fatalf("first export failed: %v", err)
	}
	err := runExport(nil, []string{trace})
	if err == nil {
		t.Fatal("expected second export of the same trace to fail")
	}
	if !strings.Contains(err.Error(), "export event 1 of 5") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunExportMissingTraceFile(t *testing.T) {
	// Reset flags.
	exportDB = filepath.Join(t.TempDir(), "traces.db")

	if err := runExport(nil, []string{filepath.Join(t.TempDir(), "nope.jsonl")}); err == nil {
		t.Fatal("expected error for missing trace file")
	}
}
