package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeworks/bridge/internal/events"
	"github.com/forgeworks/bridge/internal/forge"
	"github.com/forgeworks/bridge/internal/telemetry"
	"github.com/forgeworks/bridge/internal/telemetry/invariants"
)

const (
	// DefaultMaxRetries bounds corrective round-trips when the caller does
	// not set a budget.
	DefaultMaxRetries = 2
	// DefaultCommandWait bounds each prompt's completion wait.
	DefaultCommandWait = 10 * time.Minute
)

// SessionDriver is the slice of the session client the collector needs.
type SessionDriver interface {
	SubmitPrompt(ctx context.Context, sessionID, message string) (string, error)
	WaitForCommand(ctx context.Context, sessionID, commandID string, opts forge.WaitOptions) (*forge.Command, error)
	Exec(ctx context.Context, sessionID string, req forge.ExecRequest) (*forge.ExecResult, error)
}

// Request describes one validated artifact to collect from a session.
type Request struct {
	// InitialPrompt, when non-empty, is submitted and awaited before the
	// first read. Empty skips straight to reading, used when the session
	// was created with the work prompt already attached.
	InitialPrompt string
	// Path is where the session was told to write the artifact.
	Path string
	// Schema the artifact object must satisfy.
	Schema Schema
	// MaxRetries is the corrective round-trip budget. Negative falls back
	// to DefaultMaxRetries; zero means a single read with no retries.
	MaxRetries int
	// CorrectivePrompt overrides the default fix-it instruction. The lead-in
	// naming the path and the exact failure reason is always prepended.
	CorrectivePrompt string
}

// Result is a successfully collected artifact.
type Result struct {
	// Raw is the artifact exactly as read from the session.
	Raw []byte
	// Data is the decoded object.
	Data map[string]any
	// Attempts is the number of reads performed, counting the successful one.
	Attempts int
}

// Decode unmarshals the raw artifact into the caller's typed struct.
func (r *Result) Decode(target any) error {
	if err := json.Unmarshal(r.Raw, target); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}

// ExhaustedError is returned when every permitted read attempt failed.
// LastErr is the final attempt's recorded reason.
type ExhaustedError struct {
	Path     string
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no valid output at %s after %d attempts: %v", e.Path, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Is enables errors.Is checks against any ExhaustedError.
func (e *ExhaustedError) Is(target error) bool {
	_, ok := target.(*ExhaustedError)
	return ok
}

// Option customizes Collector construction.
type Option func(*Collector)

// WithCommandWait overrides the per-prompt completion wait budget.
func WithCommandWait(timeout time.Duration) Option {
	return func(c *Collector) {
		if timeout > 0 {
			c.commandWait = timeout
		}
	}
}

// WithPollInterval overrides the poll interval used while waiting for
// prompt completion. Zero keeps the driver's configured interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Collector) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithEventBus publishes an ArtifactAttempt event per read attempt.
func WithEventBus(bus events.Bus) Option {
	return func(c *Collector) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// Collector runs the validated output loop against one session at a time.
type Collector struct {
	driver       SessionDriver
	commandWait  time.Duration
	pollInterval time.Duration
	bus          events.Bus
	tracer       trace.Tracer
}

// New builds a Collector around the given session driver.
func New(driver SessionDriver, options ...Option) (*Collector, error) {
	if driver == nil {
		return nil, errors.New("session driver is required")
	}

	collector := &Collector{
		driver:      driver,
		commandWait: DefaultCommandWait,
		tracer:      otel.Tracer("bridge/artifact"),
	}
	for _, option := range options {
		option(collector)
	}
	return collector, nil
}

// AttemptRecord is the event payload describing one read attempt.
type AttemptRecord struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Attempt   int    `json:"attempt"`
	Max       int    `json:"max"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

// Collect runs the loop: optional initial prompt, then up to MaxRetries+1
// sequential reads with a corrective prompt between failed attempts.
// Prompt-wait timeouts and transport errors are hard stops and propagate;
// content failures (unreadable file, malformed JSON, schema violation) are
// consumed by the loop and only surface inside *ExhaustedError once the
// budget is spent.
func (c *Collector) Collect(ctx context.Context, sessionID string, req Request) (*Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		return nil, errors.New("artifact path is required")
	}
	if req.MaxRetries < 0 {
		req.MaxRetries = DefaultMaxRetries
	}
	maxAttempts := req.MaxRetries + 1

	ctx, span := c.tracer.Start(ctx, "artifact.collect", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("artifact.path", req.Path),
		attribute.Int("max_attempts", maxAttempts),
	))
	defer span.End()

	if strings.TrimSpace(req.InitialPrompt) != "" {
		if err := c.runPrompt(ctx, sessionID, req.InitialPrompt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "initial prompt failed")
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		invariants.CheckMaxRetriesNotExceeded(ctx, "artifact.Collector.Collect", attempt, maxAttempts)

		execResult, err := c.driver.Exec(ctx, sessionID, forge.ExecRequest{
			Command: []string{"cat", req.Path},
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return nil, err
		}

		data, readErr := evaluate(execResult, req.Schema)
		if readErr == nil {
			c.publishAttempt(sessionID, req, attempt, maxAttempts, nil)
			span.SetAttributes(attribute.Int("attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return &Result{
				Raw:      []byte(execResult.Stdout),
				Data:     data,
				Attempts: attempt,
			}, nil
		}

		lastErr = readErr
		span.AddEvent("attempt.invalid", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("reason", telemetry.Redact(readErr.Error())),
		))
		c.publishAttempt(sessionID, req, attempt, maxAttempts, readErr)

		if attempt < maxAttempts {
			if call := telemetry.PromptCallFromContext(ctx); call != nil {
				call.RecordCorrective(attempt, readErr.Error())
			}
			if err := c.runPrompt(ctx, sessionID, correctiveMessage(req, readErr)); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "corrective prompt failed")
				return nil, err
			}
		}
	}

	exhausted := &ExhaustedError{Path: req.Path, Attempts: maxAttempts, LastErr: lastErr}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, "retry budget exhausted")
	return nil, exhausted
}

// evaluate turns one exec result into either the decoded artifact or the
// reason this attempt failed.
func evaluate(execResult *forge.ExecResult, schema Schema) (map[string]any, error) {
	if execResult.ExitCode != 0 {
		reason := strings.TrimSpace(execResult.Stderr)
		if reason == "" {
			reason = "file not found"
		}
		return nil, errors.New(reason)
	}

	data, err := parseObject([]byte(execResult.Stdout))
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// runPrompt submits a prompt and waits for its command to finish. A command
// that lands in status "error" is not a hard stop here: the following read
// attempt surfaces whatever the agent actually produced.
func (c *Collector) runPrompt(ctx context.Context, sessionID, message string) error {
	commandID, err := c.driver.SubmitPrompt(ctx, sessionID, message)
	if err != nil {
		return err
	}
	_, err = c.driver.WaitForCommand(ctx, sessionID, commandID, forge.WaitOptions{
		Timeout:      c.commandWait,
		PollInterval: c.pollInterval,
	})
	return err
}

func (c *Collector) publishAttempt(sessionID string, req Request, attempt, maxAttempts int, readErr error) {
	if c.bus == nil {
		return
	}

	record := AttemptRecord{
		SessionID: sessionID,
		Path:      req.Path,
		Attempt:   attempt,
		Max:       maxAttempts,
		Valid:     readErr == nil,
	}
	severity := events.SeverityInfo
	if readErr != nil {
		record.Reason = readErr.Error()
		severity = events.SeverityWarn
	}

	c.bus.Publish(events.Event{
		Type:       events.EventTypeArtifactAttempt,
		EntityType: "artifact",
		EntityID:   req.Path,
		Payload:    record,
		Severity:   severity,
	})
}

func correctiveMessage(req Request, readErr error) string {
	instruction := strings.TrimSpace(req.CorrectivePrompt)
	if instruction == "" {
		instruction = "Please fix the file so it contains valid JSON matching the required schema. " +
			req.Schema.Describe()
	}
	return fmt.Sprintf("The output at %s is invalid: %s. %s", req.Path, readErr, instruction)
}
