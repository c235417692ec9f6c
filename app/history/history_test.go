package history

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/permits/app/enums"
	"github.com/umputun/permits/app/permit"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		store := newTestStore(t)
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='events'").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("invalid path", func(t *testing.T) {
		store, err := NewSQLiteStore("/invalid/path/that/does/not/exist/test.db")
		require.Error(t, err)
		assert.Nil(t, store)
	})
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	job := permit.Job{ID: "1700000000000", RiskType: enums.RiskTypeConfined, Department: enums.DepartmentKiln1,
		Point: "Top", Requester: "somchai"}
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	opened := OpenedEvent(job, 120)
	opened.CreatedAt = base
	require.NoError(t, store.Record(ctx, opened))

	cfg := ConfigEvent(45)
	cfg.CreatedAt = base.Add(time.Minute)
	require.NoError(t, store.Record(ctx, cfg))

	closed := ClosedEvent(job, 45)
	closed.CreatedAt = base.Add(2 * time.Minute)
	require.NoError(t, store.Record(ctx, closed))

	events, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, enums.EventKindClosed, events[0].Kind)
	assert.Equal(t, enums.EventKindConfig, events[1].Kind)
	assert.Equal(t, enums.EventKindOpened, events[2].Kind)

	assert.NotEmpty(t, events[2].ID, "uuid assigned")
	assert.NotEqual(t, events[0].ID, events[2].ID)
	assert.Equal(t, "1700000000000", events[2].JobID)
	assert.Equal(t, enums.DepartmentKiln1, events[2].Department)
	assert.Equal(t, enums.RiskTypeConfined, events[2].RiskType)
	assert.Equal(t, "Top", events[2].Point)
	assert.Equal(t, "somchai", events[2].Requester)
	assert.Equal(t, 120, events[2].OverdueMinutes)
	assert.True(t, base.Equal(events[2].CreatedAt))

	assert.Equal(t, 45, events[1].OverdueMinutes)
	assert.Empty(t, events[1].JobID)
	assert.False(t, events[1].Department.IsValid())

	events, err = store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventKindClosed, events[0].Kind)
}

func TestSQLiteStore_RecordDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Record(ctx, ConfigEvent(10)))
	events, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Len(t, events[0].ID, 36)
	assert.WithinDuration(t, time.Now(), events[0].CreatedAt, 5*time.Second)

	err = store.Record(ctx, Event{ID: events[0].ID, Kind: enums.EventKindConfig})
	require.Error(t, err, "duplicate id rejected")
}

func TestEvent_JSON(t *testing.T) {
	data, err := json.Marshal(ConfigEvent(30))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "department")
	assert.NotContains(t, string(data), "riskType")
	assert.Contains(t, string(data), `"kind":"config"`)
}
