package journal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgeworks/bridge/internal/events"
)

type fakeBus struct {
	mu        sync.Mutex
	published []events.Event
	handlers  map[string][]events.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]events.Handler)}
}

func (f *fakeBus) Subscribe(eventType string, handler events.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventType] = append(f.handlers[eventType], handler)
}

func (f *fakeBus) SubscribeAll(events.Handler) {}

// Publish records the event and delivers it synchronously, so tests need
// no waiting.
func (f *fakeBus) Publish(event events.Event) {
	f.mu.Lock()
	f.published = append(f.published, event)
	handlers := append([]events.Handler{}, f.handlers[event.Type]...)
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeBus) last() events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func newServiceForTest(t *testing.T) (*Service, *InMemoryStore, *fakeBus) {
	t.Helper()

	store := NewInMemoryStore()
	bus := newFakeBus()
	service, err := NewService(store, bus)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, store, bus
}

func TestAppendNormalizesPersistsAndPublishes(t *testing.T) {
	t.Parallel()

	service, store, bus := newServiceForTest(t)

	appended, err := service.Append(context.Background(), Entry{
		Type:    "  RUN_STARTED  ",
		RunID:   " run-1 ",
		IssueID: "FD-107",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if appended.SchemaVersion != SchemaVersion {
		t.Fatalf("schema version = %q, want %q", appended.SchemaVersion, SchemaVersion)
	}
	if appended.Type != EntryTypeRunStarted || appended.RunID != "run-1" {
		t.Fatalf("entry = %+v, want trimmed fields", appended)
	}
	if appended.Timestamp.IsZero() {
		t.Fatal("timestamp should be populated")
	}
	if string(appended.Payload) != "{}" {
		t.Fatalf("payload = %s, want empty object default", appended.Payload)
	}

	persisted, err := store.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted entries = %d, want 1", len(persisted))
	}

	if bus.count() != 1 {
		t.Fatalf("bus publish count = %d, want 1", bus.count())
	}
	event := bus.last()
	if event.Type != events.EventTypeRunStarted {
		t.Fatalf("bus event type = %q, want %q", event.Type, events.EventTypeRunStarted)
	}
	if event.RunID != "run-1" || event.EntityID != "run-1" || event.EntityType != "run" {
		t.Fatalf("bus event = %+v, want run scoping", event)
	}
	if _, ok := event.Payload.(Entry); !ok {
		t.Fatalf("bus payload = %T, want the normalized entry", event.Payload)
	}
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	service, _, _ := newServiceForTest(t)

	cases := []struct {
		name    string
		entry   Entry
		wantErr string
	}{
		{
			name:    "unsupported version",
			entry:   Entry{SchemaVersion: "2.0", Type: EntryTypeRunStarted, RunID: "run-1"},
			wantErr: "unsupported journal schema version",
		},
		{
			name:    "unknown type",
			entry:   Entry{Type: "RUN_EXPLODED", RunID: "run-1"},
			wantErr: "unsupported journal entry type",
		},
		{
			name:    "missing run id",
			entry:   Entry{Type: EntryTypeRunStarted},
			wantErr: "run id",
		},
		{
			name:    "invalid payload",
			entry:   Entry{Type: EntryTypeRunStarted, RunID: "run-1", Payload: json.RawMessage("{not json")},
			wantErr: "payload",
		},
		{
			name:    "step entry without step name",
			entry:   Entry{Type: EntryTypeStepStarted, RunID: "run-1"},
			wantErr: "requires a step name",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := service.Append(context.Background(), tc.entry)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestAppendAcceptsStepEntryWithName(t *testing.T) {
	t.Parallel()

	service, _, _ := newServiceForTest(t)

	appended, err := service.Append(context.Background(), Entry{
		Type:    EntryTypeStepCompleted,
		RunID:   "run-1",
		Step:    "investigate",
		Payload: json.RawMessage(`{"attempts": 2}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if appended.Step != "investigate" {
		t.Fatalf("step = %q", appended.Step)
	}
}

func TestAppendPreservesExplicitTimestampAsUTC(t *testing.T) {
	t.Parallel()

	service, _, _ := newServiceForTest(t)

	stamp := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("PST", -8*3600))
	appended, err := service.Append(context.Background(), Entry{
		Type:      EntryTypeRunFinished,
		RunID:     "run-1",
		Timestamp: stamp,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !appended.Timestamp.Equal(stamp) {
		t.Fatalf("timestamp = %v, want %v preserved", appended.Timestamp, stamp)
	}
	if appended.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp zone = %v, want UTC", appended.Timestamp.Location())
	}
}

func TestRecorderFilesArtifactAttemptEvents(t *testing.T) {
	t.Parallel()

	service, store, bus := newServiceForTest(t)
	recorder, err := NewRecorder(service)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.Attach(bus)

	bus.Publish(events.Event{
		Type:      events.EventTypeArtifactAttempt,
		Timestamp: time.Now().UTC(),
		RunID:     "run-7",
		EntityID:  "/tmp/out.json",
		Payload: map[string]any{
			"path":    "/tmp/out.json",
			"attempt": 1,
			"valid":   false,
			"reason":  "file not found",
		},
		Severity: events.SeverityWarn,
	})

	entries, err := store.ListByRun(context.Background(), "run-7")
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want the attempt filed", len(entries))
	}
	if entries[0].Type != EntryTypeArtifactAttempt {
		t.Fatalf("entry type = %q", entries[0].Type)
	}
	if !strings.Contains(string(entries[0].Payload), "file not found") {
		t.Fatalf("payload = %s, want attempt detail", entries[0].Payload)
	}

	// The recorder's writes must not echo back onto the bus.
	if bus.count() != 1 {
		t.Fatalf("bus publish count = %d, want only the original event", bus.count())
	}
}

func TestRecorderIgnoresEventsWithoutRunID(t *testing.T) {
	t.Parallel()

	service, store, bus := newServiceForTest(t)
	recorder, err := NewRecorder(service)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.Attach(bus)

	bus.Publish(events.Event{
		Type:     events.EventTypeArtifactAttempt,
		EntityID: "/tmp/out.json",
		Payload:  map[string]any{"attempt": 1},
	})

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs = %v, want none for unscoped events", runs)
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, newFakeBus()); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewService(NewInMemoryStore(), nil); err == nil {
		t.Fatal("expected error for nil bus")
	}
	if _, err := NewRecorder(nil); err == nil {
		t.Fatal("expected error for nil service")
	}
}
