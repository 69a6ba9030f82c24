package forge

import "time"

// SessionState is a server-defined session lifecycle label. The control
// plane owns the full set; these constants cover the labels the client
// makes decisions on.
type SessionState string

const (
	// SessionStateCreating indicates the session sandbox is being provisioned.
	SessionStateCreating SessionState = "creating"
	// SessionStateRunning indicates the session is ready to accept work.
	SessionStateRunning SessionState = "running"
	// SessionStateFailed indicates the session terminated abnormally.
	SessionStateFailed SessionState = "failed"
	// SessionStateCancelled indicates the session was cancelled remotely.
	SessionStateCancelled SessionState = "cancelled"
	// SessionStateFinished indicates the session was explicitly finished.
	SessionStateFinished SessionState = "finished"
)

// IsTerminalFailure reports whether the state is one of the fixed
// terminal-failure labels. A session in one of these states will never
// transition again, so polling against it is pointless.
func (s SessionState) IsTerminalFailure() bool {
	return s == SessionStateFailed || s == SessionStateCancelled
}

// CommandStatus is a server-defined command outcome label.
type CommandStatus string

const (
	// CommandStatusPending indicates the command has not finished.
	CommandStatusPending CommandStatus = "pending"
	// CommandStatusCompleted indicates the command finished successfully.
	CommandStatusCompleted CommandStatus = "completed"
	// CommandStatusError indicates the command finished with an error.
	CommandStatusError CommandStatus = "error"
)

// IsTerminal reports whether the status is final. Command status is
// monotonic: once terminal it never changes.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusError
}

// Agent is one entry from the control plane's agent listing.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is the control plane's view of one agent session.
type Session struct {
	ID                  string       `json:"id"`
	State               SessionState `json:"state"`
	AgentID             string       `json:"agent_id,omitempty"`
	SandboxDefinitionID string       `json:"sandbox_definition_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at,omitempty"`
}

// Command is the control plane's view of one submitted unit of work.
type Command struct {
	ID        string        `json:"id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Status    CommandStatus `json:"status"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ExecResult is the synchronous outcome of one exec call. It is not
// persisted remotely; each exec produces a fresh result.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// CreateSessionOptions carries the optional session creation parameters.
type CreateSessionOptions struct {
	// InitialPrompt, when set, is attached to the create call so the agent
	// starts working as soon as the sandbox is ready.
	InitialPrompt string
	// SandboxDefinitionID selects the sandbox image the session runs in.
	SandboxDefinitionID string
}

// ExecRequest describes one direct command execution inside a session.
type ExecRequest struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd,omitempty"`
}

// WaitOptions bounds one polling wait. Timeout is the total budget for the
// wait; PollInterval is the fixed sleep between polls. A zero PollInterval
// falls back to the client's configured interval. A Timeout of zero or less
// performs no polls and fails immediately.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}
