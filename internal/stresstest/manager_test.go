package stresstest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/types"
)

// createTestManager creates a new Manager with in-memory SQLite database for testing
func createTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestManager_RunLifecycle(t *testing.T) {
	m := createTestManager(t)

	run := &Run{Name: "nightly", Generation: 3}
	require.NoError(t, m.CreateRun(run))
	assert.NotZero(t, run.ID)
	assert.Len(t, run.GUID, 27, "ksuid string")
	assert.Equal(t, RunStatusRunning, run.Status)

	done := run.StartedAt.Add(time.Minute)
	run.CompletedAt = &done
	run.Status = RunStatusCompleted
	run.TotalIssued, run.TotalSucceeded, run.TotalFailed = 10, 7, 3
	require.NoError(t, m.UpdateRun(run))

	got, err := m.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.GUID, got.GUID)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, int64(3), got.Generation)
	assert.True(t, got.IsCompleted())
	assert.Equal(t, int64(7), got.TotalSucceeded)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, time.Minute, got.Duration())

	byGUID, err := m.GetRunByGUID(run.GUID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, byGUID.ID)
}

func TestManager_ListRunsNewestFirst(t *testing.T) {
	m := createTestManager(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.CreateRun(&Run{Name: "r", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := m.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))

	runs, err = m.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestManager_ObservationsRoundTrip(t *testing.T) {
	m := createTestManager(t)
	run := &Run{Name: "obs"}
	require.NoError(t, m.CreateRun(run))

	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	batch := []types.Observation{
		{Kind: types.KindQuery, Issued: true, Success: true, Latency: 1500 * time.Microsecond,
			Meta: types.ResponseMeta{StatusCode: 200, Size: 512, QTime: 3, Hits: 42}, RequestSize: 14, Timestamp: ts, Worker: 1},
		{Kind: types.KindUpdate, Issued: true, Category: types.ServerError(503), Latency: time.Millisecond,
			Meta: types.ResponseMeta{StatusCode: 503, QTime: -1, Hits: -1}, Timestamp: ts.Add(time.Second), Err: "status 503"},
		{Kind: types.KindOptimize, Issued: false, Category: types.CategoryOther,
			Meta: types.UnknownResponse, Timestamp: ts.Add(2 * time.Second), Err: "no payload"},
	}
	require.NoError(t, m.SaveObservationsBatch(run.ID, batch))
	require.NoError(t, m.SaveObservationsBatch(run.ID, nil))

	count, err := m.CountObservations(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := m.GetObservations(run.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range batch {
		assert.Equal(t, batch[i].Kind, got[i].Kind)
		assert.Equal(t, batch[i].Issued, got[i].Issued)
		assert.Equal(t, batch[i].Category, got[i].Category)
		assert.Equal(t, batch[i].Latency, got[i].Latency)
		assert.Equal(t, batch[i].Meta, got[i].Meta)
		assert.Equal(t, batch[i].RequestSize, got[i].RequestSize)
		assert.Equal(t, batch[i].Err, got[i].Err)
		assert.True(t, batch[i].Timestamp.Equal(got[i].Timestamp))
	}
}

func TestManager_SnapshotsAndDelete(t *testing.T) {
	m := createTestManager(t)
	run := &Run{Name: "snap"}
	require.NoError(t, m.CreateRun(run))

	snaps := []statistics.Snapshot{
		{Name: "ops", Implementation: statistics.ImplOperationCounter, Entries: []statistics.Entry{{Label: "query success", Value: 4}}},
		{Name: "pct", Implementation: statistics.ImplPercentiles, Entries: []statistics.Entry{{Label: "p95", Value: 12, Unit: "ms"}}},
	}
	require.NoError(t, m.SaveSnapshots(run.ID, snaps))
	require.NoError(t, m.Writer(run.ID).WriteObservations([]types.Observation{
		{Kind: types.KindQuery, Issued: true, Success: true, Timestamp: time.Now()},
	}))

	got, err := m.GetSnapshots(run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pct", got[1].Name)
	assert.Equal(t, snaps[1].Entries, got[1].Entries)

	require.NoError(t, m.DeleteRun(run.ID))
	_, err = m.GetRun(run.ID)
	assert.Error(t, err)
	count, err := m.CountObservations(run.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	got, err = m.GetSnapshots(run.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunWriter_RequiresActiveRun(t *testing.T) {
	m := createTestManager(t)
	w := &runWriter{manager: m, runID: func() int64 { return 0 }}
	err := w.WriteObservations([]types.Observation{{Kind: types.KindQuery}})
	assert.ErrorIs(t, err, ErrInvalidState)
}
