package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/persistence/memory"
)

// dealAggregate is a minimal snapshot-capable aggregate: it sums the
// "amount" field of its events.
type dealAggregate struct {
	id      string
	version int64
	total   float64
}

type dealState struct {
	Total float64 `json:"total"`
}

func (a *dealAggregate) AggregateID() string { return a.id }

func (a *dealAggregate) AggregateType() string { return "deal" }

func (a *dealAggregate) CurrentVersion() int64 { return a.version }

func (a *dealAggregate) ApplyEvent(event *models.EventEnvelope) error {
	if event.Version != a.version+1 {
		return fmt.Errorf("version gap: have %d, got %d", a.version, event.Version)
	}

	if amount, ok := event.EventData["amount"].(float64); ok {
		a.total += amount
	}

	a.version = event.Version

	return nil
}

func (a *dealAggregate) SnapshotState() ([]byte, error) {
	return json.Marshal(dealState{Total: a.total})
}

func (a *dealAggregate) RestoreSnapshot(version int64, state []byte) error {
	var restored dealState

	err := json.Unmarshal(state, &restored)
	if err != nil {
		return err
	}

	a.total = restored.Total
	a.version = version

	return nil
}

func newTestLog(store *memory.Persistence, opts ...Option) *Log {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return NewLog(store, logger, nil, opts...)
}

func appendAmount(t *testing.T, log *Log, aggregateID string, expectedVersion int64, amount float64) *models.EventEnvelope {
	t.Helper()

	event, err := log.Append(context.Background(), AppendRequest{
		AggregateID:     aggregateID,
		AggregateType:   "deal",
		ExpectedVersion: expectedVersion,
		EventType:       "DealUpdated",
		EventData:       map[string]any{"amount": amount},
		TenantID:        "tenant-1",
	})
	require.NoError(t, err)

	return event
}

func TestAppend_AssignsVersionAndIdentity(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	event := appendAmount(t, log, "deal-1", 0, 10)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, int64(1), event.Version)
	assert.Equal(t, "deal-1", event.AggregateID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestAppend_RequiresAggregateID(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	_, err := log.Append(context.Background(), AppendRequest{})

	assert.Error(t, err)
}

func TestAppend_VersionConflict(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	appendAmount(t, log, "deal-1", 0, 10)

	// A second writer that read version 0 loses the race.
	_, err := log.Append(context.Background(), AppendRequest{
		AggregateID:     "deal-1",
		AggregateType:   "deal",
		ExpectedVersion: 0,
		EventType:       "DealUpdated",
		EventData:       map[string]any{"amount": 20},
		TenantID:        "tenant-1",
	})

	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	var conflict *persistence.ConflictError

	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "deal-1", conflict.AggregateID)
	assert.Equal(t, int64(0), conflict.ExpectedVersion)
}

func TestAppend_ConcurrentWritersExactlyOneWins(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	appendAmount(t, log, "deal-1", 0, 10)

	const writers = 8

	var wg sync.WaitGroup

	results := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()

			_, err := log.Append(context.Background(), AppendRequest{
				AggregateID:     "deal-1",
				AggregateType:   "deal",
				ExpectedVersion: 1,
				EventType:       "DealUpdated",
				EventData:       map[string]any{"amount": float64(slot)},
				TenantID:        "tenant-1",
			})
			results[slot] = err
		}(i)
	}

	wg.Wait()

	succeeded := 0

	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, persistence.IsVersionConflict(err))
		}
	}

	assert.Equal(t, 1, succeeded)
}

func TestLoad_ReplaysInVersionOrder(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	appendAmount(t, log, "deal-1", 0, 10)
	appendAmount(t, log, "deal-1", 1, 20)
	appendAmount(t, log, "deal-1", 2, 30)

	aggregate := &dealAggregate{id: "deal-1"}

	require.NoError(t, log.Load(context.Background(), aggregate))

	assert.Equal(t, int64(3), aggregate.version)
	assert.InDelta(t, 60.0, aggregate.total, 0.001)
}

func TestLoad_Converges(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	appendAmount(t, log, "deal-1", 0, 10)
	appendAmount(t, log, "deal-1", 1, 20)

	first := &dealAggregate{id: "deal-1"}
	require.NoError(t, log.Load(context.Background(), first))

	second := &dealAggregate{id: "deal-1"}
	require.NoError(t, log.Load(context.Background(), second))

	assert.Equal(t, first.version, second.version)
	assert.InDelta(t, first.total, second.total, 0.001)
}

func TestLoad_AggregateNotFound(t *testing.T) {
	log := newTestLog(memory.NewPersistence())

	err := log.Load(context.Background(), &dealAggregate{id: "missing"})

	assert.ErrorIs(t, err, ErrAggregateNotFound)
}

func TestLoad_RestoresFromSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	log := newTestLog(store)

	appendAmount(t, log, "deal-1", 0, 10)
	appendAmount(t, log, "deal-1", 1, 20)
	appendAmount(t, log, "deal-1", 2, 30)

	state, err := json.Marshal(dealState{Total: 30})
	require.NoError(t, err)

	require.NoError(t, store.Snapshots().Save(ctx, &models.AggregateSnapshot{
		AggregateID:   "deal-1",
		AggregateType: "deal",
		Version:       2,
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}))

	aggregate := &dealAggregate{id: "deal-1"}

	require.NoError(t, log.Load(ctx, aggregate))

	// Snapshot state plus the single event after version 2.
	assert.Equal(t, int64(3), aggregate.version)
	assert.InDelta(t, 60.0, aggregate.total, 0.001)
}

func TestLoad_CorruptSnapshotFallsBackToFullReplay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	log := newTestLog(store)

	appendAmount(t, log, "deal-1", 0, 10)
	appendAmount(t, log, "deal-1", 1, 20)

	require.NoError(t, store.Snapshots().Save(ctx, &models.AggregateSnapshot{
		AggregateID:   "deal-1",
		AggregateType: "deal",
		Version:       1,
		State:         []byte("{broken"),
		CreatedAt:     time.Now().UTC(),
	}))

	aggregate := &dealAggregate{id: "deal-1"}

	require.NoError(t, log.Load(ctx, aggregate))

	assert.Equal(t, int64(2), aggregate.version)
	assert.InDelta(t, 30.0, aggregate.total, 0.001)
}

func TestLoad_SnapshotsAfterLongReplay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	log := newTestLog(store, WithSnapshotInterval(3))

	appendAmount(t, log, "deal-1", 0, 10)
	appendAmount(t, log, "deal-1", 1, 20)
	appendAmount(t, log, "deal-1", 2, 30)

	aggregate := &dealAggregate{id: "deal-1"}

	require.NoError(t, log.Load(ctx, aggregate))

	snapshot, err := store.Snapshots().Latest(ctx, "deal-1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), snapshot.Version)

	var state dealState

	require.NoError(t, json.Unmarshal(snapshot.State, &state))
	assert.InDelta(t, 60.0, state.Total, 0.001)
}

func TestAppend_SchedulesSnapshotOnIntervalBoundary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	log := newTestLog(store, WithSnapshotInterval(2))

	appendAmount(t, log, "deal-1", 0, 10)
	appendAmount(t, log, "deal-1", 1, 20)

	state, err := json.Marshal(dealState{Total: 60})
	require.NoError(t, err)

	_, err = log.Append(ctx, AppendRequest{
		AggregateID:     "deal-1",
		AggregateType:   "deal",
		ExpectedVersion: 2,
		EventType:       "DealUpdated",
		EventData:       map[string]any{"amount": 30},
		TenantID:        "tenant-1",
		SnapshotState:   state,
	})
	require.NoError(t, err)

	// The snapshot write is asynchronous; Close waits for it.
	log.Close()

	snapshot, err := store.Snapshots().Latest(ctx, "deal-1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), snapshot.Version)
	assert.Equal(t, state, snapshot.State)
}
