package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type agentListEnvelope struct {
	Agents []Agent `json:"agents"`
}

// ListAgents returns the agents visible to the credential, optionally
// filtered by exact name. Both the enveloped and bare-list response shapes
// are accepted.
func (c *Client) ListAgents(ctx context.Context, name string) ([]Agent, error) {
	path := "/v0/agents"
	if strings.TrimSpace(name) != "" {
		path += "?name=" + url.QueryEscape(strings.TrimSpace(name))
	}

	raw, err := c.send(ctx, http.MethodGet, path, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var agents []Agent
		if err := json.Unmarshal(raw, &agents); err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		return agents, nil
	}

	var envelope agentListEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return envelope.Agents, nil
}

type createSessionRequest struct {
	Type                string `json:"type"`
	Prompt              string `json:"prompt,omitempty"`
	SandboxDefinitionID string `json:"sandbox_definition_id,omitempty"`
}

// CreateSession asks the control plane to provision a remote session for
// the agent. The returned session's state is whatever the server reports
// at creation time; callers poll for readiness with WaitForSessionState.
func (c *Client) CreateSession(
	ctx context.Context,
	agentID string,
	opts CreateSessionOptions,
) (*Session, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}

	path := fmt.Sprintf("/v0/agents/%s/sessions", agentID)
	body := createSessionRequest{
		Type:                "remote",
		Prompt:              opts.InitialPrompt,
		SandboxDefinitionID: opts.SandboxDefinitionID,
	}

	raw, err := c.send(ctx, http.MethodPost, path, body, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := decodeInto(path, raw, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, &DecodeError{Path: path, Err: errors.New("response missing session id")}
	}
	return &session, nil
}

// GetSession reads the current session state. Pure read; never mutates.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	path := fmt.Sprintf("/v0/sessions/%s", sessionID)
	raw, err := c.send(ctx, http.MethodGet, path, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := decodeInto(path, raw, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// WaitForSessionState polls GetSession on a fixed interval until the session
// reaches one of the target states. A terminal-failure state that is not
// itself a target fails immediately with *SessionTerminatedError on the poll
// that observes it; an exhausted timeout fails with *SessionTimeoutError.
// The sleep between polls honors ctx cancellation.
func (c *Client) WaitForSessionState(
	ctx context.Context,
	sessionID string,
	targets []SessionState,
	opts WaitOptions,
) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if len(targets) == 0 {
		return nil, errors.New("at least one target state is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.pollInterval
	}

	targetSet := make(map[SessionState]struct{}, len(targets))
	targetNames := make([]string, 0, len(targets))
	for _, target := range targets {
		targetSet[target] = struct{}{}
		targetNames = append(targetNames, string(target))
	}

	ctx, span := c.tracer.Start(ctx, "forge.wait_session", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("target_states", strings.Join(targetNames, "|")),
		attribute.Int64("timeout_ms", opts.Timeout.Milliseconds()),
		attribute.Int64("poll_interval_ms", interval.Milliseconds()),
	))
	defer span.End()

	polls := 0
	deadline := time.Now().Add(opts.Timeout)
	for time.Now().Before(deadline) {
		session, err := c.GetSession(ctx, sessionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll failed")
			return nil, err
		}
		polls++
		span.AddEvent("poll", trace.WithAttributes(
			attribute.Int("attempt", polls),
			attribute.String("state", string(session.State)),
		))

		if _, reached := targetSet[session.State]; reached {
			span.SetAttributes(attribute.Int("polls", polls))
			span.SetStatus(codes.Ok, "")
			return session, nil
		}
		if session.State.IsTerminalFailure() {
			terminated := &SessionTerminatedError{SessionID: sessionID, State: session.State}
			span.RecordError(terminated)
			span.SetStatus(codes.Error, "terminal state")
			return nil, terminated
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	timedOut := &SessionTimeoutError{SessionID: sessionID, Targets: targets, Timeout: opts.Timeout}
	span.RecordError(timedOut)
	span.SetStatus(codes.Error, "timeout")
	return nil, timedOut
}

// Finish ends the session. One-way: the session cannot accept further work
// afterwards. Server errors are forwarded as-is; whether they abort the
// caller is the caller's policy.
func (c *Client) Finish(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	path := fmt.Sprintf("/v0/sessions/%s/finish", sessionID)
	_, err := c.send(ctx, http.MethodPost, path, nil, c.requestTimeout)
	return err
}

// Trajectory returns the session's recorded interaction history as the
// server sent it.
func (c *Client) Trajectory(ctx context.Context, sessionID string) (json.RawMessage, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	path := fmt.Sprintf("/v0/sessions/%s/trajectory", sessionID)
	raw, err := c.send(ctx, http.MethodGet, path, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
