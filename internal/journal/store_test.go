package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testEntry(runID string, entryType string) Entry {
	return Entry{
		SchemaVersion: SchemaVersion,
		Type:          entryType,
		RunID:         runID,
		Payload:       json.RawMessage(`{}`),
		Timestamp:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestInMemoryStoreAppendAndListByRun(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	if err := store.Append(context.Background(), testEntry("run-1", EntryTypeRunStarted)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(context.Background(), testEntry("run-1", EntryTypeRunFinished)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(context.Background(), testEntry("run-2", EntryTypeRunStarted)); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := store.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Type != EntryTypeRunStarted || entries[1].Type != EntryTypeRunFinished {
		t.Fatalf("entries = %+v, want append order preserved", entries)
	}

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0] != "run-1" || runs[1] != "run-2" {
		t.Fatalf("runs = %v, want sorted run ids", runs)
	}
}

func TestInMemoryStoreRejectsEmptyRunID(t *testing.T) {
	t.Parallel()

	if _, err := NewInMemoryStore().ListByRun(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestFileStoreAppendsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	first := testEntry("run-1", EntryTypeRunStarted)
	second := testEntry("run-1", EntryTypeStepStarted)
	second.Step = "investigate"
	if err := store.Append(context.Background(), first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(context.Background(), second); err != nil {
		t.Fatalf("append: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-1.jsonl"))
	if err != nil {
		t.Fatalf("read journal file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want one JSON line per entry", len(lines))
	}
	if !strings.Contains(lines[1], `"step":"investigate"`) {
		t.Fatalf("line = %s, want step field serialized", lines[1])
	}

	entries, err := store.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if !entries[0].Timestamp.Equal(first.Timestamp) {
		t.Fatalf("timestamp = %v, want round-tripped %v", entries[0].Timestamp, first.Timestamp)
	}
}

func TestFileStoreListByRunWithoutFileReturnsEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	entries, err := store.ListByRun(context.Background(), "never-ran")
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestFileStoreListByRunReportsCorruptLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run-x.jsonl"), []byte("{}\n{broken\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err = store.ListByRun(context.Background(), "run-x")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error = %v, want offending line number", err)
	}
}

func TestFileStoreRejectsPathTraversalRunIDs(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	for _, runID := range []string{"../escape", "a/b", `a\b`, "..", "."} {
		if err := store.Append(context.Background(), testEntry(runID, EntryTypeRunStarted)); err == nil {
			t.Fatalf("run id %q: expected error", runID)
		}
	}
}

func TestFileStoreRunsListsJournalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Append(context.Background(), testEntry("run-b", EntryTypeRunStarted)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(context.Background(), testEntry("run-a", EntryTypeRunStarted)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0] != "run-a" || runs[1] != "run-b" {
		t.Fatalf("runs = %v, want sorted journal runs only", runs)
	}
}

func TestNewFileStoreCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "journal")
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("new file store: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat journal dir: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("journal path is not a directory")
	}
}
