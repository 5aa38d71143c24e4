package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Lanes:      2,
		LanePrefix: "eplus",
		GroupTitle: "EPLUS",
		Grid: config.GridConfig{
			AlignMins:   30,
			MinGapMins:  30,
			ValidHours:  4,
			PlanKeep:    24,
			EventTTLHrs: 72,
		},
		Padding:           config.PaddingConfig{LiveOnly: true},
		ScheduleHours:     6,
		OutDir:            t.TempDir(),
		LockDir:           t.TempDir(),
		StandbyTitle:      "Stand By",
		ResolverBaseURL:   "http://localhost:8094",
		CycleDeadlineMins: 5,
	}
}

func seededRunner(t *testing.T, cfg *config.Config, events ...model.Event) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureLanes(cfg.LanePrefix, cfg.Lanes, cfg.GroupTitle))
	for _, e := range events {
		require.NoError(t, st.UpsertEvent(e))
	}
	r := New(cfg, st, nil)
	r.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r, st
}

func windowEvent(id string, startHour, stopHour int) model.Event {
	return model.Event{
		EventID:   id,
		Title:     "Event " + id,
		Sport:     "Soccer",
		Network:   "ESPN+",
		EventType: model.EventLive,
		Start:     time.Date(2025, 1, 1, startHour, 0, 0, 0, time.UTC),
		Stop:      time.Date(2025, 1, 1, stopHour, 0, 0, 0, time.UTC),
	}
}

func TestRunCycleCommitsPlanAndRendersArtifacts(t *testing.T) {
	cfg := testConfig(t)
	r, st := seededRunner(t, cfg, windowEvent("E1", 1, 2), windowEvent("E2", 2, 3))

	require.NoError(t, r.RunCycle(context.Background(), false))

	planID, err := st.LatestPlanID()
	require.NoError(t, err)
	slots, err := st.ListAllSlots(planID)
	require.NoError(t, err)
	assert.NotEmpty(t, slots)

	var real int
	for _, s := range slots {
		if s.IsEvent() {
			real++
		}
	}
	assert.Equal(t, 2, real)

	for _, name := range []string{"epg.xml", "playlist.m3u"} {
		_, err := os.Stat(filepath.Join(cfg.OutDir, name))
		assert.NoError(t, err, "artifact %s rendered", name)
	}

	// The lock is released for the next cycle.
	require.NoError(t, r.RunCycle(context.Background(), false))
	planID2, err := st.LatestPlanID()
	require.NoError(t, err)
	assert.Greater(t, planID2, planID)
}

// A filter that empties a non-empty corpus must not shrink the store,
// and the build proceeds against the unfiltered set. Even events past
// their TTL survive such a cycle: the sweep stays off that path.
func TestRunCycleEmptyFilterSafety(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filter.Networks = []string{"does-not-exist"}
	stale := windowEvent("stale", 1, 2)
	stale.Start = stale.Start.Add(-200 * time.Hour)
	stale.Stop = stale.Stop.Add(-200 * time.Hour)
	r, st := seededRunner(t, cfg, windowEvent("E1", 1, 2), stale)

	require.NoError(t, r.RunCycle(context.Background(), false))

	n, err := st.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 2, n, "store events unchanged")
	_, err = st.GetEvent("stale")
	assert.NoError(t, err, "expired events survive an empty-filter cycle")

	planID, err := st.LatestPlanID()
	require.NoError(t, err)
	slots, err := st.ListAllSlots(planID)
	require.NoError(t, err)
	var real int
	for _, s := range slots {
		if s.IsEvent() {
			real++
		}
	}
	assert.Equal(t, 1, real, "unfiltered events still planned")
}

func TestRunCycleForceReplanReassigns(t *testing.T) {
	cfg := testConfig(t)
	r, st := seededRunner(t, cfg, windowEvent("E0", 1, 2), windowEvent("E1", 1, 2))

	require.NoError(t, r.RunCycle(context.Background(), false))
	sticky, err := st.LoadStickyMap()
	require.NoError(t, err)
	require.Equal(t, "eplus02", sticky["E1"])

	// E0 disappears; a forced replan moves E1 down to the first lane.
	_, err = st.DeleteEventsBefore(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, st.UpsertEvent(windowEvent("E1", 1, 2)))
	require.NoError(t, st.ClearStickyMap())
	require.NoError(t, r.RunCycle(context.Background(), true))

	sticky, err = st.LoadStickyMap()
	require.NoError(t, err)
	assert.Equal(t, "eplus01", sticky["E1"])
}

func TestRunCycleHeldLockFails(t *testing.T) {
	cfg := testConfig(t)
	r, _ := seededRunner(t, cfg, windowEvent("E1", 1, 2))

	lock := filepath.Join(cfg.LockDir, "refresh.lock")
	require.NoError(t, os.WriteFile(lock, []byte("123\n"), 0o644))
	err := r.RunCycle(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, os.Remove(lock))
	assert.NoError(t, r.RunCycle(context.Background(), false))
}

func TestSweepPrunesExpiredEventsAndOldPlans(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grid.PlanKeep = 1
	stale := windowEvent("stale", 1, 2)
	stale.Start = stale.Start.Add(-200 * time.Hour)
	stale.Stop = stale.Stop.Add(-200 * time.Hour)
	r, st := seededRunner(t, cfg, stale, windowEvent("fresh", 1, 2))

	require.NoError(t, r.RunCycle(context.Background(), false))
	require.NoError(t, r.RunCycle(context.Background(), false))

	_, err := st.GetEvent("stale")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetEvent("fresh")
	assert.NoError(t, err)

	latest, err := st.LatestPlanID()
	require.NoError(t, err)
	slots, err := st.ListSlots(latest-1, "eplus01")
	require.NoError(t, err)
	assert.Empty(t, slots, "only the newest plan retained")
}
