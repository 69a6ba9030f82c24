// Package journal keeps an append-only record of pipeline runs. Every run
// writes a sequence of validated entries (run started, steps, observed
// session states, artifact read attempts, run finished) that can be
// replayed later for audit or debugging. Persisted entries are also
// published on the event bus for live observers.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgeworks/bridge/internal/events"
)

const (
	// SchemaVersion identifies the supported journal entry schema.
	SchemaVersion = "1.0"

	// EntryTypeRunStarted records the start of a pipeline run.
	EntryTypeRunStarted = "RUN_STARTED"
	// EntryTypeStepStarted records a step beginning.
	EntryTypeStepStarted = "STEP_STARTED"
	// EntryTypeStepCompleted records a step finishing, with its result.
	EntryTypeStepCompleted = "STEP_COMPLETED"
	// EntryTypeSessionState records an observed remote session state.
	EntryTypeSessionState = "SESSION_STATE"
	// EntryTypeArtifactAttempt records one validated-output read attempt.
	EntryTypeArtifactAttempt = "ARTIFACT_ATTEMPT"
	// EntryTypeRunFinished records the end of a run, with its outcome.
	EntryTypeRunFinished = "RUN_FINISHED"
)

// Entry is the normalized persisted journal record.
type Entry struct {
	SchemaVersion string          `json:"schema_version"`
	Type          string          `json:"type"`
	RunID         string          `json:"run_id"`
	IssueID       string          `json:"issue_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Step          string          `json:"step,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Store persists and replays journal entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByRun(ctx context.Context, runID string) ([]Entry, error)
	Runs(ctx context.Context) ([]string, error)
}

// Service validates, persists, and re-publishes journal entries.
type Service struct {
	store Store
	bus   events.Bus
	now   func() time.Time
}

// NewService constructs a journal service.
func NewService(store Store, bus events.Bus) (*Service, error) {
	if store == nil {
		return nil, errors.New("journal store is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	return &Service{
		store: store,
		bus:   bus,
		now:   time.Now,
	}, nil
}

// Append normalizes, validates, and persists one entry, then publishes it
// on the event bus. The normalized entry is returned.
func (s *Service) Append(ctx context.Context, entry Entry) (Entry, error) {
	return s.append(ctx, entry, true)
}

func (s *Service) append(ctx context.Context, entry Entry, publish bool) (Entry, error) {
	normalized := normalizeEntry(entry, s.now().UTC())
	if err := validateEntry(normalized); err != nil {
		return Entry{}, err
	}
	if err := s.store.Append(ctx, normalized); err != nil {
		return Entry{}, fmt.Errorf("persist journal entry: %w", err)
	}

	if publish {
		s.bus.Publish(events.Event{
			Type:       eventTypeFor(normalized.Type),
			Timestamp:  normalized.Timestamp,
			RunID:      normalized.RunID,
			EntityType: "run",
			EntityID:   normalized.RunID,
			Payload:    normalized,
			Severity:   events.SeverityInfo,
		})
	}
	return normalized, nil
}

// ListByRun replays the persisted entries for one run in append order.
func (s *Service) ListByRun(ctx context.Context, runID string) ([]Entry, error) {
	return s.store.ListByRun(ctx, runID)
}

func normalizeEntry(entry Entry, now time.Time) Entry {
	entry.SchemaVersion = strings.TrimSpace(entry.SchemaVersion)
	if entry.SchemaVersion == "" {
		entry.SchemaVersion = SchemaVersion
	}
	entry.Type = strings.TrimSpace(entry.Type)
	entry.RunID = strings.TrimSpace(entry.RunID)
	entry.IssueID = strings.TrimSpace(entry.IssueID)
	entry.SessionID = strings.TrimSpace(entry.SessionID)
	entry.Step = strings.TrimSpace(entry.Step)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage("{}")
	}
	return entry
}

func validateEntry(entry Entry) error {
	if entry.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported journal schema version %q", entry.SchemaVersion)
	}
	if !isSupportedType(entry.Type) {
		return fmt.Errorf("unsupported journal entry type %q", entry.Type)
	}
	if entry.RunID == "" {
		return errors.New("run id must not be empty")
	}
	if entry.Timestamp.IsZero() {
		return errors.New("timestamp must not be zero")
	}
	if !json.Valid(entry.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if entry.Type == EntryTypeStepStarted || entry.Type == EntryTypeStepCompleted {
		if entry.Step == "" {
			return fmt.Errorf("%s entry requires a step name", entry.Type)
		}
	}
	return nil
}

func isSupportedType(value string) bool {
	switch value {
	case EntryTypeRunStarted, EntryTypeStepStarted, EntryTypeStepCompleted,
		EntryTypeSessionState, EntryTypeArtifactAttempt, EntryTypeRunFinished:
		return true
	default:
		return false
	}
}

func eventTypeFor(entryType string) string {
	switch entryType {
	case EntryTypeRunStarted:
		return events.EventTypeRunStarted
	case EntryTypeStepStarted:
		return events.EventTypeStepStarted
	case EntryTypeStepCompleted:
		return events.EventTypeStepCompleted
	case EntryTypeSessionState:
		return events.EventTypeSessionState
	case EntryTypeArtifactAttempt:
		return events.EventTypeArtifactAttempt
	case EntryTypeRunFinished:
		return events.EventTypeRunFinished
	default:
		return entryType
	}
}

// Recorder files selected bus events as journal entries, so publishers
// like the artifact collector do not need a journal dependency. Delivery
// rides the bus and is best effort; the authoritative run and step records
// are appended synchronously by the runner.
type Recorder struct {
	service *Service
}

// NewRecorder constructs a Recorder around the journal service.
func NewRecorder(service *Service) (*Recorder, error) {
	if service == nil {
		return nil, errors.New("journal service is required")
	}
	return &Recorder{service: service}, nil
}

// Attach subscribes the recorder to the bus event types it persists.
func (r *Recorder) Attach(bus events.Bus) {
	bus.Subscribe(events.EventTypeArtifactAttempt, r.record)
}

func (r *Recorder) record(event events.Event) {
	if event.RunID == "" {
		return
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return
	}

	// The quiet path skips the bus re-publish: this entry started life as
	// a bus event, and echoing it would loop.
	_, _ = r.service.append(context.Background(), Entry{
		Type:      EntryTypeArtifactAttempt,
		RunID:     event.RunID,
		Payload:   payload,
		Timestamp: event.Timestamp,
	}, false)
}
