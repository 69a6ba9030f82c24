package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgeworks/bridge/internal/config"
)

func TestJournalShowReplaysPersistedEntries(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".bridge", "journal")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("create journal dir: %v", err)
	}
	lines := strings.Join([]string{
		`{"schema_version":"1.0","type":"RUN_STARTED","run_id":"run-9","issue_id":"FD-107","payload":{"identifier":"FD-107"},"timestamp":"2026-05-15T10:00:00Z"}`,
		`{"schema_version":"1.0","type":"STEP_STARTED","run_id":"run-9","step":"fetch_issue","payload":{},"timestamp":"2026-05-15T10:00:01Z"}`,
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "run-9.jsonl"), []byte(lines+"\n"), 0o600); err != nil {
		t.Fatalf("write journal file: %v", err)
	}

	cmd := newRootCommand(context.Background(), &config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"journal", "show", "run-9"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := stdout.String()
	for _, fragment := range []string{"RUN_STARTED", "STEP_STARTED", "fetch_issue", `"identifier":"FD-107"`} {
		if !strings.Contains(output, fragment) {
			t.Fatalf("journal output missing %q: %s", fragment, output)
		}
	}
}

func TestJournalShowReportsEmptyRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCommand(context.Background(), &config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"journal", "show", "run-missing"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stdout.String(), "No journal entries for run run-missing.") {
		t.Fatalf("expected empty-run message, got %q", stdout.String())
	}
}

func TestJournalListListsRuns(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".bridge", "journal")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("create journal dir: %v", err)
	}
	for _, runID := range []string{"run-a", "run-b"} {
		if err := os.WriteFile(filepath.Join(dir, runID+".jsonl"), []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("write journal file: %v", err)
		}
	}

	cmd := newRootCommand(context.Background(), &config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"journal", "list"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "run-a") || !strings.Contains(output, "run-b") {
		t.Fatalf("journal list missing runs: %q", output)
	}
}
