package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
	ErrEmptyAggregate      = errors.New("aggregate type and id are required")
)

// Event is a recorded domain event. ID, Sequence, Version and CreatedAt are
// assigned on append.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Sequence      int64           `json:"sequence"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Journal is an in-memory append-only event log with per-stream optimistic
// concurrency. It is safe for concurrent use.
type Journal struct {
	mu       sync.RWMutex
	events   []Event
	versions map[string]int
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{
		versions: make(map[string]int),
		tracer:   otel.Tracer("librarydesk/journal"),
		now:      time.Now,
	}
}

func streamKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

// AppendEvents atomically appends events to one stream, failing if the
// stream is not at expectedVersion.
func (j *Journal) AppendEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion int, events []Event) error {
	_, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if aggregateType == "" || aggregateID == "" {
		return ErrEmptyAggregate
	}
	if expectedVersion < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, expectedVersion)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	key := streamKey(aggregateType, aggregateID)
	currentVersion := j.versions[key]
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	j.commitLocked(span, StreamAppend{
		AggregateType:   aggregateType,
		AggregateID:     aggregateID,
		ExpectedVersion: expectedVersion,
		Events:          events,
	})
	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// StreamAppend is one stream's part of an AppendStreams call.
type StreamAppend struct {
	AggregateType   string
	AggregateID     string
	ExpectedVersion int
	Events          []Event
}

// AppendStreams appends to several streams at once. Either every stream is at
// its expected version and all events are recorded, or nothing is. A stream
// listed twice must expect the version left by its earlier entry.
func (j *Journal) AppendStreams(ctx context.Context, appends ...StreamAppend) error {
	_, span := j.tracer.Start(ctx, "journal.append_streams",
		trace.WithAttributes(attribute.Int("stream.count", len(appends))),
	)
	defer span.End()

	for _, a := range appends {
		if a.AggregateType == "" || a.AggregateID == "" {
			return ErrEmptyAggregate
		}
		if a.ExpectedVersion < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidVersion, a.ExpectedVersion)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	pending := make(map[string]int, len(appends))
	for _, a := range appends {
		key := streamKey(a.AggregateType, a.AggregateID)
		current, ok := pending[key]
		if !ok {
			current = j.versions[key]
		}
		if current != a.ExpectedVersion {
			span.SetAttributes(
				attribute.String("conflict.stream", key),
				attribute.Int("actual.version", current),
				attribute.Bool("conflict.detected", true),
			)
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, key)
		}
		pending[key] = a.ExpectedVersion + len(a.Events)
	}

	for _, a := range appends {
		j.commitLocked(span, a)
	}
	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// commitLocked records a's events. The caller holds j.mu and has checked the
// expected version.
func (j *Journal) commitLocked(span trace.Span, a StreamAppend) {
	createdAt := j.now().UTC()
	for i, event := range a.Events {
		event.ID = uuid.New()
		event.Sequence = int64(len(j.events)) + 1
		event.AggregateID = a.AggregateID
		event.AggregateType = a.AggregateType
		event.Version = a.ExpectedVersion + i + 1
		event.CreatedAt = createdAt
		j.events = append(j.events, event)

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.sequence", event.Sequence),
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
	}
	j.versions[streamKey(a.AggregateType, a.AggregateID)] = a.ExpectedVersion + len(a.Events)
}

// LoadEvents returns the events of one stream with version in
// [fromVersion, toVersion]. A toVersion of 0 leaves the range open.
func (j *Journal) LoadEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	_, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	if aggregateType == "" || aggregateID == "" {
		return nil, ErrEmptyAggregate
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var events []Event
	for _, e := range j.events {
		if e.AggregateType != aggregateType || e.AggregateID != aggregateID {
			continue
		}
		if e.Version < fromVersion || (toVersion > 0 && e.Version > toVersion) {
			continue
		}
		events = append(events, e)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version of a stream, 0 if it has no events.
func (j *Journal) CurrentVersion(ctx context.Context, aggregateType, aggregateID string) int {
	_, span := j.tracer.Start(ctx, "journal.get_version",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
		),
	)
	defer span.End()

	j.mu.RLock()
	version := j.versions[streamKey(aggregateType, aggregateID)]
	j.mu.RUnlock()

	span.SetAttributes(attribute.Int("current.version", version))
	return version
}

// StreamEvents returns up to batchSize events with Sequence > afterSequence,
// across all streams, in append order.
func (j *Journal) StreamEvents(ctx context.Context, afterSequence int64, batchSize int) []Event {
	_, span := j.tracer.Start(ctx, "journal.stream",
		trace.WithAttributes(
			attribute.Int64("after.sequence", afterSequence),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	j.mu.RLock()
	defer j.mu.RUnlock()

	if afterSequence < 0 {
		afterSequence = 0
	}
	if batchSize <= 0 || afterSequence >= int64(len(j.events)) {
		return nil
	}
	// Sequence n lives at index n-1.
	start := int(afterSequence)
	end := min(start+batchSize, len(j.events))
	events := make([]Event, end-start)
	copy(events, j.events[start:end])

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events
}

// Len returns the total number of recorded events.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events)
}

// Reset drops every event and stream version.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.events = nil
	j.versions = make(map[string]int)
	j.mu.Unlock()
}

// Encode marshals an event payload.
func Encode(payload any) (json.RawMessage, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return data, nil
}

// Decode unmarshals the payload of e into dst.
func Decode(e Event, dst any) error {
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(e.EventData, dst); err != nil {
		return fmt.Errorf("unmarshal %s event data: %w", e.EventType, err)
	}
	return nil
}
