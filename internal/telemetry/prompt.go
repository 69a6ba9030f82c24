package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxRedactedMessageBytes = 512

var (
	sensitiveInlinePattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`)
	bearerTokenPattern     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	linearKeyPattern       = regexp.MustCompile(`\blin_api_[A-Za-z0-9]{10,}\b`)
)

// PromptCallRequest defines telemetry metadata for one remote prompt
// round-trip against an agent session.
type PromptCallRequest struct {
	Operation string
	SessionID string
	Prompt    string
}

// PromptCall tracks one session.prompt span lifecycle.
type PromptCall struct {
	span      trace.Span
	startedAt time.Time

	mu         sync.Mutex
	corrective int
	ended      bool
}

type promptCallContextKey struct{}

// StartPromptCall starts a session.prompt span and returns a context
// carrying the tracker. Prompts are recorded as a hash plus an estimated
// token count, never verbatim.
func StartPromptCall(ctx context.Context, req PromptCallRequest) (context.Context, *PromptCall) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("session_id", normalizeOrUnknown(req.SessionID)),
		attribute.String("prompt_hash", hashPrompt(req.Prompt)),
		attribute.Int("prompt_tokens", EstimateTokenCount(req.Prompt)),
	}
	if operation := strings.TrimSpace(req.Operation); operation != "" {
		attrs = append(attrs, attribute.String("operation", operation))
	}

	spanCtx, span := otel.Tracer("bridge/telemetry/prompt").Start(
		ctx,
		"session.prompt",
		trace.WithAttributes(attrs...),
	)

	call := &PromptCall{
		span:      span,
		startedAt: time.Now(),
	}

	return context.WithValue(spanCtx, promptCallContextKey{}, call), call
}

// PromptCallFromContext returns the prompt call tracker if one exists on
// the context.
func PromptCallFromContext(ctx context.Context) *PromptCall {
	if ctx == nil {
		return nil
	}
	callValue := ctx.Value(promptCallContextKey{})
	call, ok := callValue.(*PromptCall)
	if !ok {
		return nil
	}
	return call
}

// RecordCorrective adds a corrective-round event to the active prompt span.
func (c *PromptCall) RecordCorrective(attempt int, reason string) {
	if c == nil || c.span == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.corrective++

	c.span.AddEvent(
		"prompt.corrective",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("reason", Redact(reason)),
		),
	)
}

// End finalizes the span with latency, the command ID the prompt produced,
// and the corrective-round count.
func (c *PromptCall) End(commandID string, err error) {
	if c == nil || c.span == nil {
		return
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	corrective := c.corrective
	c.mu.Unlock()

	durationMS := time.Since(c.startedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}

	c.span.SetAttributes(
		attribute.Int64("latency_ms", durationMS),
		attribute.Int("corrective_rounds", corrective),
		attribute.String("command_id", normalizeOrUnknown(commandID)),
	)

	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, Redact(err.Error()))
	} else {
		c.span.SetStatus(codes.Ok, "prompt call completed")
	}
	c.span.End()
}

// EstimateTokenCount estimates token count using a deterministic
// words-to-tokens heuristic.
func EstimateTokenCount(text string) int {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0
	}
	estimated := (len(fields)*4 + 2) / 3
	if estimated < 1 {
		return 1
	}
	return estimated
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(Redact(prompt)))
	return hex.EncodeToString(sum[:])
}

// Redact masks credential-shaped substrings and truncates the result so
// span payloads stay bounded. Safe on empty input.
func Redact(input string) string {
	redacted := strings.TrimSpace(input)
	if redacted == "" {
		return ""
	}
	redacted = sensitiveInlinePattern.ReplaceAllString(redacted, "$1=<redacted>")
	redacted = bearerTokenPattern.ReplaceAllString(redacted, "bearer <redacted>")
	redacted = linearKeyPattern.ReplaceAllString(redacted, "<redacted>")
	if len(redacted) > maxRedactedMessageBytes {
		return redacted[:maxRedactedMessageBytes-len("...[truncated]")] + "...[truncated]"
	}
	return redacted
}

func normalizeOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
