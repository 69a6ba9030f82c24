package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeworks/bridge/internal/telemetry"
)

type promptRequest struct {
	Message string `json:"message"`
}

type promptResponse struct {
	CommandID string `json:"command_id"`
}

// SubmitPrompt sends a free-form instruction to the session and returns the
// command ID to poll.
func (c *Client) SubmitPrompt(ctx context.Context, sessionID, message string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	if strings.TrimSpace(message) == "" {
		return "", errors.New("prompt message is required")
	}

	path := fmt.Sprintf("/v0/sessions/%s/prompt", sessionID)
	raw, err := c.send(ctx, http.MethodPost, path, promptRequest{Message: message}, c.requestTimeout)
	if err != nil {
		return "", err
	}

	var response promptResponse
	if err := decodeInto(path, raw, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.CommandID) == "" {
		return "", &DecodeError{Path: path, Err: errors.New("response missing command_id")}
	}
	return response.CommandID, nil
}

// GetCommand reads the current status of one submitted command.
func (c *Client) GetCommand(ctx context.Context, sessionID, commandID string) (*Command, error) {
	sessionID = strings.TrimSpace(sessionID)
	commandID = strings.TrimSpace(commandID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if commandID == "" {
		return nil, errors.New("command id is required")
	}

	path := fmt.Sprintf("/v0/sessions/%s/commands/%s", sessionID, commandID)
	raw, err := c.send(ctx, http.MethodGet, path, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	var command Command
	if err := decodeInto(path, raw, &command); err != nil {
		return nil, err
	}
	return &command, nil
}

// WaitForCommand polls GetCommand on a fixed interval until the command
// reaches a terminal status. Both terminal statuses are returned as data:
// a command that finished with "error" is a normal recoverable condition
// for the layer above, not a client failure. An exhausted timeout fails
// with *CommandTimeoutError.
func (c *Client) WaitForCommand(
	ctx context.Context,
	sessionID string,
	commandID string,
	opts WaitOptions,
) (*Command, error) {
	sessionID = strings.TrimSpace(sessionID)
	commandID = strings.TrimSpace(commandID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if commandID == "" {
		return nil, errors.New("command id is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.pollInterval
	}

	ctx, span := c.tracer.Start(ctx, "forge.wait_command", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("command_id", commandID),
		attribute.Int64("timeout_ms", opts.Timeout.Milliseconds()),
		attribute.Int64("poll_interval_ms", interval.Milliseconds()),
	))
	defer span.End()

	polls := 0
	deadline := time.Now().Add(opts.Timeout)
	for time.Now().Before(deadline) {
		command, err := c.GetCommand(ctx, sessionID, commandID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll failed")
			return nil, err
		}
		polls++
		span.AddEvent("poll", trace.WithAttributes(
			attribute.Int("attempt", polls),
			attribute.String("status", string(command.Status)),
		))

		if command.Status.IsTerminal() {
			span.SetAttributes(
				attribute.Int("polls", polls),
				attribute.String("final_status", string(command.Status)),
			)
			span.SetStatus(codes.Ok, "")
			return command, nil
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	timedOut := &CommandTimeoutError{SessionID: sessionID, CommandID: commandID, Timeout: opts.Timeout}
	span.RecordError(timedOut)
	span.SetStatus(codes.Error, "timeout")
	return nil, timedOut
}

// Exec runs argv synchronously inside the session and returns its exit
// code and captured streams. Uses the exec timeout, not the request
// timeout: exec commands run real tooling and may take minutes.
func (c *Client) Exec(ctx context.Context, sessionID string, req ExecRequest) (*ExecResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if len(req.Command) == 0 {
		return nil, errors.New("exec command is required")
	}

	ctx, span := c.tracer.Start(ctx, "forge.exec", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("exec.command", telemetry.Redact(strings.Join(req.Command, " "))),
	))
	defer span.End()

	path := fmt.Sprintf("/v0/sessions/%s/exec", sessionID)
	raw, err := c.send(ctx, http.MethodPost, path, req, c.execTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exec failed")
		return nil, err
	}

	var result ExecResult
	if err := decodeInto(path, raw, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("exec.exit_code", result.ExitCode))
	span.SetStatus(codes.Ok, "")
	return &result, nil
}
