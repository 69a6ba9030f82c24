package forge

import (
	"fmt"
	"strings"
	"time"
)

// APIError is returned when the control plane answers with a non-2xx
// status. It carries the raw response body for diagnostics.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Is enables errors.Is checks against any APIError.
func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

// DecodeError is returned when a 2xx response body does not match the
// endpoint's expected shape.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is checks against any DecodeError.
func (e *DecodeError) Is(target error) bool {
	_, ok := target.(*DecodeError)
	return ok
}

// SessionTerminatedError is returned when a session reaches a
// terminal-failure state while the caller was waiting for a different one.
type SessionTerminatedError struct {
	SessionID string
	State     SessionState
}

func (e *SessionTerminatedError) Error() string {
	return fmt.Sprintf("session %s reached terminal state %q", e.SessionID, e.State)
}

// Is enables errors.Is checks against any SessionTerminatedError.
func (e *SessionTerminatedError) Is(target error) bool {
	_, ok := target.(*SessionTerminatedError)
	return ok
}

// SessionTimeoutError is returned when a session wait exhausts its timeout
// without the session reaching any target state.
type SessionTimeoutError struct {
	SessionID string
	Targets   []SessionState
	Timeout   time.Duration
}

func (e *SessionTimeoutError) Error() string {
	targets := make([]string, 0, len(e.Targets))
	for _, target := range e.Targets {
		targets = append(targets, string(target))
	}
	return fmt.Sprintf(
		"session %s did not reach %s within %s",
		e.SessionID,
		strings.Join(targets, "|"),
		e.Timeout,
	)
}

// Is enables errors.Is checks against any SessionTimeoutError.
func (e *SessionTimeoutError) Is(target error) bool {
	_, ok := target.(*SessionTimeoutError)
	return ok
}

// CommandTimeoutError is returned when a command wait exhausts its timeout
// before the command reaches a terminal status.
type CommandTimeoutError struct {
	SessionID string
	CommandID string
	Timeout   time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf(
		"command %s in session %s did not complete within %s",
		e.CommandID,
		e.SessionID,
		e.Timeout,
	)
}

// Is enables errors.Is checks against any CommandTimeoutError.
func (e *CommandTimeoutError) Is(target error) bool {
	_, ok := target.(*CommandTimeoutError)
	return ok
}
