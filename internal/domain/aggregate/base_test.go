package aggregate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	ID      string `json:"id"`
	Total   int    `json:"total"`
	Version int    `json:"version"`
}

func (c *counter) GetID() string    { return c.ID }
func (c *counter) GetVersion() int  { return c.Version }
func (c *counter) SetVersion(v int) { c.Version = v }
func (c *counter) ApplyEvent(e store.Event) error {
	var data struct {
		ID string `json:"id"`
		N  int    `json:"n"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return err
	}
	c.ID = data.ID
	c.Total += data.N
	c.Version = e.Version
	return nil
}

type incremented struct {
	ID string `json:"id"`
	N  int    `json:"n"`
}

func TestLoad_NotFound(t *testing.T) {
	es := mocks.NewMockEventStore()

	_, found, err := Load(context.Background(), es, "c-1", func() *counter { return &counter{} })

	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoad_FromSnapshotPlusEvents(t *testing.T) {
	es := mocks.NewMockEventStore()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, es.AddEvent("c-1", "Counter", "Incremented", incremented{ID: "c-1", N: 1}))
	}
	state, _ := json.Marshal(counter{ID: "c-1", Total: 100, Version: 10})
	es.SetSnapshot(&store.Snapshot{AggregateID: "c-1", Version: 10, State: state})

	c, found, err := Load(ctx, es, "c-1", func() *counter { return &counter{} })

	require.NoError(t, err)
	assert.True(t, found)
	// snapshot total plus the two events after version 10
	assert.Equal(t, 102, c.Total)
	assert.Equal(t, 12, c.Version)
}

func TestAppend_UsesCurrentVersion(t *testing.T) {
	es := mocks.NewMockEventStore()
	ctx := context.Background()
	c := &counter{ID: "c-1"}

	_, err := Append(ctx, es, c, "Counter", "Incremented", incremented{ID: "c-1", N: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, 0, es.AppendCalls[0].ExpectedVersion)

	stale := &counter{ID: "c-1"}
	_, err = Append(ctx, es, stale, "Counter", "Incremented", incremented{ID: "c-1", N: 1})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)
}

func TestMaybeCreateSnapshot_Threshold(t *testing.T) {
	es := mocks.NewMockEventStore()
	ctx := context.Background()

	require.NoError(t, MaybeCreateSnapshot(ctx, es, &counter{ID: "c-1", Version: 9}, "Counter"))
	assert.Empty(t, es.SaveSnapshotCalls)

	require.NoError(t, MaybeCreateSnapshot(ctx, es, &counter{ID: "c-1", Version: store.SnapshotThreshold}, "Counter"))
	require.Len(t, es.SaveSnapshotCalls, 1)
	assert.Equal(t, store.SnapshotThreshold, es.SaveSnapshotCalls[0].Snapshot.Version)
}
