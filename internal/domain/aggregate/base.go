package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-checkout/internal/infrastructure/store"
	"go.uber.org/zap"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// Load rebuilds an aggregate from its latest snapshot plus the events after it.
// The boolean reports whether anything was found for id.
func Load[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T
	agg := newAggregate()

	snapshot, err := eventStore.GetSnapshot(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	from := 0
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			return zero, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		agg.SetVersion(snapshot.Version)
		from = snapshot.Version
	}

	events, err := eventStore.GetEventsFromVersion(ctx, id, from)
	if err != nil {
		return zero, false, fmt.Errorf("failed to get events: %w", err)
	}

	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return zero, false, fmt.Errorf("failed to apply %s v%d: %w", event.EventType, event.Version, err)
		}
	}

	return agg, snapshot != nil || len(events) > 0, nil
}

// Append applies a new event to agg after storing it at agg's current version.
// A concurrent writer makes it fail with store.ErrConcurrencyConflict.
func Append(
	ctx context.Context,
	eventStore store.EventStoreInterface,
	agg Aggregate,
	aggregateType, eventType string,
	data any,
) (*store.Event, error) {
	stored, err := eventStore.Append(ctx, agg.GetID(), aggregateType, eventType, data, agg.GetVersion())
	if err != nil {
		return nil, err
	}
	if err := agg.ApplyEvent(*stored); err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", eventType, err)
	}
	return stored, nil
}

// MaybeCreateSnapshot creates a snapshot if the threshold is reached
func MaybeCreateSnapshot(
	ctx context.Context,
	eventStore store.EventStoreInterface,
	agg Aggregate,
	aggregateType string,
) error {
	version := agg.GetVersion()
	if version == 0 || version%store.SnapshotThreshold != 0 {
		return nil
	}

	state, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate state: %w", err)
	}

	snapshot := &store.Snapshot{
		AggregateID:   agg.GetID(),
		AggregateType: aggregateType,
		Version:       version,
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}

	if err := eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Snapshot is MaybeCreateSnapshot with failures logged instead of returned.
// A missing snapshot only costs replay time.
func Snapshot(ctx context.Context, eventStore store.EventStoreInterface, agg Aggregate, aggregateType string, logger *zap.Logger) {
	if err := MaybeCreateSnapshot(ctx, eventStore, agg, aggregateType); err != nil {
		logger.Warn("failed to create snapshot",
			zap.String("aggregate_id", agg.GetID()),
			zap.Int("version", agg.GetVersion()),
			zap.Error(err))
	}
}
