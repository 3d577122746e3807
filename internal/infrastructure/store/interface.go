package store

import (
	"context"
	"errors"

	"github.com/example/ec-checkout/internal/apperr"
)

// AnyVersion disables the optimistic concurrency check on Append.
const AnyVersion = -1

// ErrConcurrencyConflict is returned by Append when the aggregate moved past
// the expected version.
var ErrConcurrencyConflict = apperr.Conflict("CONCURRENT_MODIFICATION", "aggregate was modified concurrently")

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	// Append stores an event as version expectedVersion+1. Passing AnyVersion
	// appends after whatever is currently stored.
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any, expectedVersion int) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
}

// Publisher forwards stored events to downstream consumers (Kafka, or an
// in-process projector).
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, key string, event any) error

func (f PublisherFunc) Publish(ctx context.Context, key string, event any) error {
	return f(ctx, key, event)
}

// Publishers fans an event out to every publisher and joins their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, key string, event any) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, key, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
