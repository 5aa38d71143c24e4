package planner

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func utc(hour, min int) time.Time {
	return time.Date(2025, 1, 1, hour, min, 0, 0, time.UTC)
}

func liveEvent(id string, start, stop time.Time) model.Event {
	return model.Event{
		EventID:   id,
		Title:     "Event " + id,
		Sport:     "Soccer",
		EventType: model.EventLive,
		Start:     start,
		Stop:      stop,
	}
}

func lanes(t *testing.T, st *store.Store, n int) []model.Channel {
	t.Helper()
	require.NoError(t, st.EnsureLanes("eplus", n, "EPLUS"))
	out, err := st.ListChannels(true)
	require.NoError(t, err)
	require.Len(t, out, n)
	return out
}

func buildPlan(t *testing.T, st *store.Store, chs []model.Channel, padded []PaddedEvent, sticky map[string]string, force bool, from, to time.Time) (BuildResult, Assignment) {
	t.Helper()
	asg := Assign(padded, sticky, chs, force, zerolog.Nop())
	res, err := Build(st, chs, padded, asg.Lanes, BuildParams{
		ValidFrom:  from,
		ValidTo:    to,
		AlignMins:  30,
		MinGapMins: 30,
	}, zerolog.Nop())
	require.NoError(t, err)
	return res, asg
}

func TestBuildSingleEventSingleLane(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 1)
	e1 := liveEvent("E1", utc(1, 0), utc(2, 0))
	require.NoError(t, st.UpsertEvent(e1))

	padded := Pad([]model.Event{e1}, config.PaddingConfig{})
	res, _ := buildPlan(t, st, chs, padded, nil, false, utc(0, 0), utc(2, 0))

	slots, err := st.ListSlots(res.PlanID, "eplus01")
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, model.SlotPlaceholder, slots[0].Kind)
	assert.Equal(t, model.GapBefore, slots[0].PlaceholderReason)
	assert.True(t, slots[0].Start.Equal(utc(0, 0)))
	assert.True(t, slots[0].End.Equal(utc(1, 0)))

	assert.Equal(t, model.SlotEvent, slots[1].Kind)
	assert.Equal(t, "E1", slots[1].EventID)
	assert.True(t, slots[1].Start.Equal(utc(1, 0)))
	assert.True(t, slots[1].End.Equal(utc(2, 0)))
}

func TestBuildPaddingClippedAtWindowEnd(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 1)
	e1 := liveEvent("E1", utc(1, 0), utc(2, 0))
	require.NoError(t, st.UpsertEvent(e1))

	padded := Pad([]model.Event{e1}, config.PaddingConfig{EndMins: 30, LiveOnly: true})
	require.True(t, padded[0].EffEnd.Equal(utc(2, 30)))

	res, _ := buildPlan(t, st, chs, padded, nil, false, utc(0, 0), utc(2, 0))
	slots, err := st.ListSlots(res.PlanID, "eplus01")
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, model.SlotPlaceholder, slots[0].Kind)
	assert.True(t, slots[0].Start.Equal(utc(0, 0)))
	assert.True(t, slots[0].End.Equal(utc(1, 0)))

	// Padded end is clipped to the window, never past it.
	assert.Equal(t, model.SlotEvent, slots[1].Kind)
	assert.True(t, slots[1].End.Equal(utc(2, 0)))
}

func TestBuildOverlappingEventsDropLater(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 1)
	e1 := liveEvent("E1", utc(1, 0), utc(2, 0))
	e2 := liveEvent("E2", utc(1, 30), utc(2, 30))
	require.NoError(t, st.UpsertEvent(e1))
	require.NoError(t, st.UpsertEvent(e2))

	padded := Pad([]model.Event{e1, e2}, config.PaddingConfig{})
	res, asg := buildPlan(t, st, chs, padded, nil, false, utc(0, 0), utc(3, 0))

	require.Len(t, asg.Dropped, 1)
	assert.Equal(t, "E2", asg.Dropped[0].EventID)
	assert.Equal(t, "no_free_lane", asg.Dropped[0].Reason)

	slots, err := st.ListSlots(res.PlanID, "eplus01")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, model.SlotPlaceholder, slots[0].Kind)
	assert.Equal(t, "E1", slots[1].EventID)
	assert.Equal(t, model.SlotPlaceholder, slots[2].Kind)
	assert.Equal(t, model.GapAfter, slots[2].PlaceholderReason)
}

func TestBuildStickyAcrossRebuilds(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 2)
	e0 := liveEvent("E0", utc(1, 0), utc(2, 0))
	e1 := liveEvent("E1", utc(1, 0), utc(2, 0))
	require.NoError(t, st.UpsertEvent(e0))
	require.NoError(t, st.UpsertEvent(e1))

	// Plan N: E0 takes eplus01, so E1 lands on eplus02.
	padded := Pad([]model.Event{e0, e1}, config.PaddingConfig{})
	_, asg := buildPlan(t, st, chs, padded, nil, false, utc(0, 0), utc(3, 0))
	require.Equal(t, "eplus01", asg.Lanes["E0"])
	require.Equal(t, "eplus02", asg.Lanes["E1"])

	// Plan N+1: E0 is gone and eplus01 free, but E1 stays where it was.
	sticky, err := st.LoadStickyMap()
	require.NoError(t, err)
	padded = Pad([]model.Event{e1}, config.PaddingConfig{})
	res, asg := buildPlan(t, st, chs, padded, sticky, false, utc(0, 0), utc(3, 0))
	assert.Equal(t, "eplus02", asg.Lanes["E1"])

	slots, err := st.ListSlots(res.PlanID, "eplus02")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "E1", slots[1].EventID)
}

func TestBuildForceReplanIgnoresSticky(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 2)
	e1 := liveEvent("E1", utc(1, 0), utc(2, 0))
	require.NoError(t, st.UpsertEvent(e1))

	padded := Pad([]model.Event{e1}, config.PaddingConfig{})
	sticky := map[string]string{"E1": "eplus02"}

	_, asg := buildPlan(t, st, chs, padded, sticky, true, utc(0, 0), utc(3, 0))
	assert.Equal(t, "eplus01", asg.Lanes["E1"], "force replan assigns lowest free chno")
}

func TestBuildCoversWindowExactlyOnEveryLane(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 3)
	events := []model.Event{
		liveEvent("A", utc(0, 15), utc(1, 45)),
		liveEvent("B", utc(1, 0), utc(2, 0)),
		liveEvent("C", utc(1, 30), utc(3, 10)),
		liveEvent("D", utc(5, 0), utc(6, 0)),
	}
	for _, e := range events {
		require.NoError(t, st.UpsertEvent(e))
	}
	from, to := utc(0, 0), utc(8, 0)
	padded := Pad(events, config.PaddingConfig{EndMins: 15, LiveOnly: true})
	res, _ := buildPlan(t, st, chs, padded, nil, false, from, to)

	for _, ch := range chs {
		slots, err := st.ListSlots(res.PlanID, ch.ChannelID)
		require.NoError(t, err)
		require.NotEmpty(t, slots, "lane %s", ch.ChannelID)
		cursor := from
		for _, s := range slots {
			assert.True(t, s.Start.Equal(cursor), "lane %s: slot starts %s, want %s", ch.ChannelID, s.Start, cursor)
			assert.True(t, s.Start.Before(s.End))
			if s.IsEvent() {
				assert.NotEmpty(t, s.EventID)
			} else {
				assert.Empty(t, s.EventID)
			}
			cursor = s.End
		}
		assert.True(t, cursor.Equal(to), "lane %s ends at %s", ch.ChannelID, cursor)
	}

	run, err := st.LatestPlan()
	require.NoError(t, err)
	assert.Equal(t, res.PlanID, run.PlanID)
	assert.Equal(t, res.Checksum, run.Checksum)
	assert.NotEmpty(t, run.Checksum)
}

func TestBuildPrefersPrimaryThenHighestFeed(t *testing.T) {
	st := newTestStore(t)
	chs := lanes(t, st, 1)
	e1 := liveEvent("E1", utc(1, 0), utc(2, 0))
	require.NoError(t, st.UpsertEvent(e1))
	require.NoError(t, st.UpsertFeed(model.Feed{FeedID: "f1", EventID: "E1", URL: "http://a/1"}))
	require.NoError(t, st.UpsertFeed(model.Feed{FeedID: "f2", EventID: "E1", URL: "http://a/2"}))

	padded := Pad([]model.Event{e1}, config.PaddingConfig{})
	res, _ := buildPlan(t, st, chs, padded, nil, false, utc(1, 0), utc(2, 0))
	slots, err := st.ListSlots(res.PlanID, "eplus01")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "f2", slots[0].PreferredFeedID, "highest feed_id wins without a primary")

	require.NoError(t, st.UpsertFeed(model.Feed{FeedID: "f1", EventID: "E1", URL: "http://a/1", IsPrimary: true}))
	res2, _ := buildPlan(t, st, chs, padded, nil, false, utc(1, 0), utc(2, 0))
	slots, err = st.ListSlots(res2.PlanID, "eplus01")
	require.NoError(t, err)
	assert.Equal(t, "f1", slots[0].PreferredFeedID, "primary wins")
}

func TestStandbySlotsCollapseAndSplit(t *testing.T) {
	// MIN_GAP >= ALIGN: the whole gap collapses to one slot.
	slots := standbySlots("eplus01", utc(0, 0), utc(1, 0), model.GapBefore, 30*time.Minute, 30*time.Minute)
	require.Len(t, slots, 1)
	assert.True(t, slots[0].Start.Equal(utc(0, 0)))
	assert.True(t, slots[0].End.Equal(utc(1, 0)))

	// MIN_GAP < ALIGN: split at aligned boundaries, edges pinned.
	slots = standbySlots("eplus01", utc(0, 10), utc(2, 0), model.GapBetween, 60*time.Minute, 5*time.Minute)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Start.Equal(utc(0, 10)))
	assert.True(t, slots[0].End.Equal(utc(1, 0)))
	assert.True(t, slots[1].Start.Equal(utc(1, 0)))
	assert.True(t, slots[1].End.Equal(utc(2, 0)))
}
