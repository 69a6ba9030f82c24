// Package invariants emits telemetry events when runtime checks on the
// session-control protocol are violated.
package invariants

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InvariantMaxRetriesNotExceeded requires the validation loop to stay
	// within its configured retry budget.
	InvariantMaxRetriesNotExceeded = "max_retries_not_exceeded"
	// InvariantPhaseTransitionLegal requires run phases to follow the
	// deterministic phase machine.
	InvariantPhaseTransitionLegal = "phase_transition_legal"
	// InvariantNoWorkAfterFinish requires that no work is submitted to a
	// session after it was finished.
	InvariantNoWorkAfterFinish = "no_work_after_finish"
)

const (
	// SeverityWarn is used for non-fatal invariant violations.
	SeverityWarn = "warn"
	// SeverityError is used for fatal invariant violations.
	SeverityError = "error"
)

var invariantChecksEnabled atomic.Bool

func init() {
	invariantChecksEnabled.Store(true)
}

// ViolationDetails captures invariant violation context for telemetry events.
type ViolationDetails struct {
	WhatInvariant string
	WhereDetected string
	WhyViolated   string
	Additional    map[string]string
}

// SetEnabled globally enables or disables invariant checks.
func SetEnabled(enabled bool) {
	invariantChecksEnabled.Store(enabled)
}

// Enabled reports whether invariant checks are currently enabled.
func Enabled() bool {
	return invariantChecksEnabled.Load()
}

// InvariantViolation emits an invariant.violation telemetry event on the
// active span. If the context has no active span, a short synthetic span is
// created for observability.
func InvariantViolation(
	ctx context.Context,
	invariantName string,
	severity string,
	details ViolationDetails,
) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	invariantName = strings.TrimSpace(invariantName)
	if invariantName == "" {
		invariantName = "unknown_invariant"
	}
	severity = normalizeSeverity(severity)

	attrs := []attribute.KeyValue{
		attribute.String("invariant_name", invariantName),
		attribute.String("severity", severity),
		attribute.String("what_invariant", strings.TrimSpace(details.WhatInvariant)),
		attribute.String("where_detected", strings.TrimSpace(details.WhereDetected)),
		attribute.String("why_violated", strings.TrimSpace(details.WhyViolated)),
	}

	if len(details.Additional) > 0 {
		keys := make([]string, 0, len(details.Additional))
		for key := range details.Additional {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(details.Additional[key])
			if value == "" {
				continue
			}
			attrs = append(attrs, attribute.String("context."+key, value))
		}
	}

	span := trace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().IsValid() {
		span.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
		return
	}

	tracedCtx, temporarySpan := otel.Tracer("bridge/invariants").Start(ctx, "invariant.violation")
	defer temporarySpan.End()
	temporarySpan.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
	_ = tracedCtx
}

// CheckMaxRetriesNotExceeded validates the max_retries_not_exceeded invariant.
func CheckMaxRetriesNotExceeded(ctx context.Context, whereDetected string, attempt, maxAttempts int) bool {
	if maxAttempts <= 0 || attempt <= maxAttempts {
		return true
	}
	InvariantViolation(ctx, InvariantMaxRetriesNotExceeded, SeverityError, ViolationDetails{
		WhatInvariant: "validation attempts remain within the configured retry budget",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("attempt=%d exceeded max_attempts=%d", attempt, maxAttempts),
		Additional: map[string]string{
			"attempt":      fmt.Sprintf("%d", attempt),
			"max_attempts": fmt.Sprintf("%d", maxAttempts),
		},
	})
	return false
}

// CheckPhaseTransitionLegal validates the phase_transition_legal invariant.
func CheckPhaseTransitionLegal(
	ctx context.Context,
	whereDetected string,
	fromPhase string,
	toPhase string,
	legal bool,
) bool {
	if legal {
		return true
	}
	InvariantViolation(ctx, InvariantPhaseTransitionLegal, SeverityError, ViolationDetails{
		WhatInvariant: "run phase transitions follow the deterministic phase machine",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("illegal transition from=%s to=%s", fromPhase, toPhase),
		Additional: map[string]string{
			"from_phase": strings.TrimSpace(fromPhase),
			"to_phase":   strings.TrimSpace(toPhase),
		},
	})
	return false
}

// CheckNoWorkAfterFinish validates the no_work_after_finish invariant.
func CheckNoWorkAfterFinish(ctx context.Context, whereDetected, sessionID string, finished bool) bool {
	if !finished {
		return true
	}
	InvariantViolation(ctx, InvariantNoWorkAfterFinish, SeverityError, ViolationDetails{
		WhatInvariant: "no work is submitted to a session after finish",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("session %s was already finished", strings.TrimSpace(sessionID)),
		Additional: map[string]string{
			"session_id": strings.TrimSpace(sessionID),
		},
	})
	return false
}

func normalizeSeverity(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SeverityWarn:
		return SeverityWarn
	case SeverityError:
		return SeverityError
	default:
		return SeverityError
	}
}
