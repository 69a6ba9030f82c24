package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedCommand struct {
	mu       sync.Mutex
	statuses []Command
	polls    int
}

func (s *scriptedCommand) next() Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	command := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return command
}

func (s *scriptedCommand) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func newScriptedCommandClient(t *testing.T, script *scriptedCommand) *Client {
	t.Helper()
	return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
			return
		}
		command := script.next()
		if err := json.NewEncoder(w).Encode(command); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func TestSubmitPromptReturnsCommandID(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"command_id":"cmd-42"}`))
	})

	commandID, err := client.SubmitPrompt(context.Background(), "sess-1", "run the validation")
	if err != nil {
		t.Fatalf("submit prompt: %v", err)
	}
	if commandID != "cmd-42" {
		t.Fatalf("command id = %q, want cmd-42", commandID)
	}
	if gotPath != "/v0/sessions/sess-1/prompt" {
		t.Fatalf("path = %q, want prompt endpoint", gotPath)
	}
	if gotBody["message"] != "run the validation" {
		t.Fatalf("body message = %v, want prompt text", gotBody["message"])
	}
}

func TestSubmitPromptRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"command_id":"cmd-1"}`))
	})

	_, err := client.SubmitPrompt(context.Background(), "sess-1", "   ")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "prompt message is required") {
		t.Fatalf("error = %v, want message validation error", err)
	}
}

func TestSubmitPromptRejectsResponseWithoutCommandID(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.SubmitPrompt(context.Background(), "sess-1", "do it")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, &DecodeError{}) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if !strings.Contains(err.Error(), "missing command_id") {
		t.Fatalf("error = %v, want missing command_id context", err)
	}
}

func TestWaitForCommandReturnsCompletedCommand(t *testing.T) {
	t.Parallel()

	script := &scriptedCommand{statuses: []Command{
		{ID: "cmd-1", Status: CommandStatusPending},
		{ID: "cmd-1", Status: CommandStatusPending},
		{ID: "cmd-1", Status: CommandStatusCompleted, Output: "done"},
	}}
	client := newScriptedCommandClient(t, script)

	command, err := client.WaitForCommand(
		context.Background(),
		"sess-1",
		"cmd-1",
		WaitOptions{Timeout: 2 * time.Second, PollInterval: 5 * time.Millisecond},
	)
	if err != nil {
		t.Fatalf("wait for command: %v", err)
	}
	if command.Status != CommandStatusCompleted {
		t.Fatalf("status = %q, want completed", command.Status)
	}
	if command.Output != "done" {
		t.Fatalf("output = %q, want done", command.Output)
	}
	if got := script.pollCount(); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
}

func TestWaitForCommandReturnsErrorStatusAsData(t *testing.T) {
	t.Parallel()

	script := &scriptedCommand{statuses: []Command{
		{ID: "cmd-1", Status: CommandStatusPending},
		{ID: "cmd-1", Status: CommandStatusError, Error: "agent crashed mid-task"},
	}}
	client := newScriptedCommandClient(t, script)

	command, err := client.WaitForCommand(
		context.Background(),
		"sess-1",
		"cmd-1",
		WaitOptions{Timeout: 2 * time.Second, PollInterval: 5 * time.Millisecond},
	)
	if err != nil {
		t.Fatalf("error status must be data, not a client failure: %v", err)
	}
	if command.Status != CommandStatusError {
		t.Fatalf("status = %q, want error", command.Status)
	}
	if command.Error != "agent crashed mid-task" {
		t.Fatalf("command error = %q, want server message preserved", command.Error)
	}
}

func TestWaitForCommandTimesOutWithTypedError(t *testing.T) {
	t.Parallel()

	script := &scriptedCommand{statuses: []Command{
		{ID: "cmd-1", Status: CommandStatusPending},
	}}
	client := newScriptedCommandClient(t, script)

	_, err := client.WaitForCommand(
		context.Background(),
		"sess-1",
		"cmd-1",
		WaitOptions{Timeout: 40 * time.Millisecond, PollInterval: 10 * time.Millisecond},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, &CommandTimeoutError{}) {
		t.Fatalf("error = %v, want *CommandTimeoutError", err)
	}

	var timedOut *CommandTimeoutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("error = %T, want *CommandTimeoutError", err)
	}
	if timedOut.CommandID != "cmd-1" {
		t.Fatalf("command id = %q, want cmd-1", timedOut.CommandID)
	}
}

func TestWaitForCommandZeroTimeoutFailsWithoutPolling(t *testing.T) {
	t.Parallel()

	script := &scriptedCommand{statuses: []Command{
		{ID: "cmd-1", Status: CommandStatusCompleted},
	}}
	client := newScriptedCommandClient(t, script)

	_, err := client.WaitForCommand(
		context.Background(),
		"sess-1",
		"cmd-1",
		WaitOptions{Timeout: -time.Second, PollInterval: 5 * time.Millisecond},
	)
	if !errors.Is(err, &CommandTimeoutError{}) {
		t.Fatalf("error = %v, want *CommandTimeoutError", err)
	}
	if got := script.pollCount(); got != 0 {
		t.Fatalf("polls = %d, want 0 for non-positive timeout", got)
	}
}

func TestExecSendsCommandAndDecodesResult(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody ExecRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"exit_code":0,"stdout":"{\"ok\":true}","stderr":""}`))
	})

	result, err := client.Exec(context.Background(), "sess-1", ExecRequest{
		Command: []string{"cat", "/tmp/investigate_result.json"},
		Cwd:     "/workspace",
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if gotPath != "/v0/sessions/sess-1/exec" {
		t.Fatalf("path = %q, want exec endpoint", gotPath)
	}
	if len(gotBody.Command) != 2 || gotBody.Command[0] != "cat" {
		t.Fatalf("command = %v, want cat argv", gotBody.Command)
	}
	if gotBody.Cwd != "/workspace" {
		t.Fatalf("cwd = %q, want /workspace", gotBody.Cwd)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if result.Stdout != `{"ok":true}` {
		t.Fatalf("stdout = %q, want file contents", result.Stdout)
	}
}

func TestExecReturnsNonZeroExitAsData(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"exit_code":1,"stdout":"","stderr":"cat: /tmp/missing.json: No such file or directory"}`))
	})

	result, err := client.Exec(context.Background(), "sess-1", ExecRequest{
		Command: []string{"cat", "/tmp/missing.json"},
	})
	if err != nil {
		t.Fatalf("non-zero exit must be data, not a client failure: %v", err)
	}
	if result.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "No such file") {
		t.Fatalf("stderr = %q, want server stderr preserved", result.Stderr)
	}
}

func TestExecRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Exec(context.Background(), "sess-1", ExecRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exec command is required") {
		t.Fatalf("error = %v, want command validation error", err)
	}
}

func TestGetCommandDecodesFields(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"cmd-1","session_id":"sess-1","status":"completed","output":"all good"}`)
	})

	command, err := client.GetCommand(context.Background(), "sess-1", "cmd-1")
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if command.ID != "cmd-1" || command.SessionID != "sess-1" {
		t.Fatalf("command = %+v, want ids decoded", command)
	}
	if command.Status != CommandStatusCompleted {
		t.Fatalf("status = %q, want completed", command.Status)
	}
}
