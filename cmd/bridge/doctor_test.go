package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/forgeworks/bridge/internal/config"
)

func TestDoctorCommandFailsWithoutConfiguration(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCommand(context.Background(), &config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"doctor"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected doctor to fail without configuration")
	}
	if !strings.Contains(err.Error(), "checks failed") {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, fragment := range []string{"forge credentials", "FAIL", "FORGE_API_URL", "repo mapping"} {
		if !strings.Contains(output, fragment) {
			t.Fatalf("doctor output missing %q: %s", fragment, output)
		}
	}
}
