package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanecast/lanecast/internal/metrics"
	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/store"
)

// BuildParams shape one plan build.
type BuildParams struct {
	ValidFrom     time.Time
	ValidTo       time.Time
	AlignMins     int
	MinGapMins    int
	SourceVersion string
	Note          string
}

// BuildResult summarizes a committed plan for the sanity log line.
type BuildResult struct {
	PlanID       int64
	Programmes   int
	Placeholders int
	Real         int
	Checksum     string
}

// Build materializes a gap-free, non-overlapping schedule per lane over
// [ValidFrom, ValidTo), writes it and the new sticky map in one store
// transaction, and commits. On any invariant violation nothing is
// committed and the prior plan stays latest.
func Build(st *store.Store, lanes []model.Channel, events []PaddedEvent, assigned map[string]string, p BuildParams, log zerolog.Logger) (BuildResult, error) {
	var res BuildResult
	if !p.ValidFrom.Before(p.ValidTo) {
		return res, fmt.Errorf("build: empty validity window [%s, %s)", p.ValidFrom, p.ValidTo)
	}

	byEvent := make(map[string]PaddedEvent, len(events))
	for _, e := range events {
		byEvent[e.EventID] = e
	}

	allSlots := make([]model.PlanSlot, 0, len(events)*2)
	for _, lane := range lanes {
		laneEvents := clipAndSort(events, assigned, lane.ChannelID, p.ValidFrom, p.ValidTo, log)
		slots, err := laneSlots(st, lane.ChannelID, laneEvents, p)
		if err != nil {
			return res, err
		}
		allSlots = append(allSlots, slots...)
	}

	if err := checkInvariants(allSlots, byEvent, lanes, p.ValidFrom, p.ValidTo); err != nil {
		return res, fmt.Errorf("plan invariant violation: %w", err)
	}

	tx, err := st.BeginPlan(p.ValidFrom, p.ValidTo, p.SourceVersion, p.Note)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	for i := range allSlots {
		allSlots[i].PlanID = tx.PlanID()
		if err := tx.WriteSlot(allSlots[i]); err != nil {
			return res, err
		}
	}
	if err := tx.WriteStickyMap(assigned, time.Now()); err != nil {
		return res, err
	}
	checksum := planChecksum(tx.PlanID(), allSlots)
	if err := tx.Commit(checksum); err != nil {
		return res, err
	}

	res.PlanID = tx.PlanID()
	res.Checksum = checksum
	res.Programmes = len(allSlots)
	for _, s := range allSlots {
		if s.IsEvent() {
			res.Real++
		} else {
			res.Placeholders++
		}
	}
	metrics.PlanSlots.WithLabelValues(string(model.SlotEvent)).Set(float64(res.Real))
	metrics.PlanSlots.WithLabelValues(string(model.SlotPlaceholder)).Set(float64(res.Placeholders))
	return res, nil
}

// clipAndSort gathers the lane's assigned events, clips them to the
// window, and drops any that remain overlapping (defensive; the assigner
// should not emit them).
func clipAndSort(events []PaddedEvent, assigned map[string]string, channelID string, from, to time.Time, log zerolog.Logger) []PaddedEvent {
	var laneEvents []PaddedEvent
	for _, e := range events {
		if assigned[e.EventID] != channelID {
			continue
		}
		clipped := e
		if clipped.EffStart.Before(from) {
			clipped.EffStart = from
		}
		if clipped.EffEnd.After(to) {
			clipped.EffEnd = to
		}
		if !clipped.EffStart.Before(clipped.EffEnd) {
			continue
		}
		laneEvents = append(laneEvents, clipped)
	}
	sort.SliceStable(laneEvents, func(i, j int) bool {
		if laneEvents[i].EffStart.Equal(laneEvents[j].EffStart) {
			return laneEvents[i].EventID < laneEvents[j].EventID
		}
		return laneEvents[i].EffStart.Before(laneEvents[j].EffStart)
	})
	kept := laneEvents[:0]
	var lastEnd time.Time
	for _, e := range laneEvents {
		if len(kept) > 0 && e.EffStart.Before(lastEnd) {
			log.Warn().
				Str("event_id", e.EventID).
				Str("lane", channelID).
				Msg("overlapping event reached builder; dropping later event")
			continue
		}
		kept = append(kept, e)
		lastEnd = e.EffEnd
	}
	return kept
}

// laneSlots tiles one lane: event slots at their exact padded times,
// standby slots in every remaining gap. Sub-second gaps are closed by
// extending the prior slot.
func laneSlots(st *store.Store, channelID string, laneEvents []PaddedEvent, p BuildParams) ([]model.PlanSlot, error) {
	align := time.Duration(p.AlignMins) * time.Minute
	minGap := time.Duration(p.MinGapMins) * time.Minute

	var slots []model.PlanSlot
	cursor := p.ValidFrom
	for i, e := range laneEvents {
		if gap := e.EffStart.Sub(cursor); gap > 0 {
			if gap < time.Second && len(slots) > 0 {
				slots[len(slots)-1].End = e.EffStart
			} else {
				reason := model.GapBetween
				if i == 0 {
					reason = model.GapBefore
				}
				slots = append(slots, standbySlots(channelID, cursor, e.EffStart, reason, align, minGap)...)
			}
		}
		feedID, err := preferredFeed(st, e.EventID)
		if err != nil {
			return nil, err
		}
		slots = append(slots, model.PlanSlot{
			ChannelID:       channelID,
			Start:           e.EffStart,
			End:             e.EffEnd,
			Kind:            model.SlotEvent,
			EventID:         e.EventID,
			PreferredFeedID: feedID,
		})
		cursor = e.EffEnd
	}
	if gap := p.ValidTo.Sub(cursor); gap > 0 {
		if gap < time.Second && len(slots) > 0 {
			slots[len(slots)-1].End = p.ValidTo
		} else {
			reason := model.GapAfter
			if len(laneEvents) == 0 {
				reason = model.GapBefore
			}
			slots = append(slots, standbySlots(channelID, cursor, p.ValidTo, reason, align, minGap)...)
		}
	}
	return slots, nil
}

// standbySlots fills [from, to) with placeholder slots. The gap is split
// at wall-clock multiples of align, then any piece not longer than
// minGap is merged into its neighbor; with the default MIN_GAP_MINS ==
// ALIGN every gap collapses to a single standby slot. The gap edges
// themselves never move: they are pinned by the neighboring events (or
// the window), and padding wins over alignment.
func standbySlots(channelID string, from, to time.Time, reason string, align, minGap time.Duration) []model.PlanSlot {
	cuts := []time.Time{from}
	if align > 0 {
		for t := from.Truncate(align).Add(align); t.Before(to); t = t.Add(align) {
			if t.After(from) {
				cuts = append(cuts, t)
			}
		}
	}
	cuts = append(cuts, to)

	type piece struct{ start, end time.Time }
	pieces := make([]piece, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		pieces = append(pieces, piece{cuts[i], cuts[i+1]})
	}
	for i := 0; i < len(pieces); {
		if len(pieces) == 1 {
			break
		}
		if pieces[i].end.Sub(pieces[i].start) <= minGap {
			if i+1 < len(pieces) {
				pieces[i+1].start = pieces[i].start
				pieces = append(pieces[:i], pieces[i+1:]...)
			} else {
				pieces[i-1].end = pieces[i].end
				pieces = pieces[:i]
			}
			continue
		}
		i++
	}

	out := make([]model.PlanSlot, 0, len(pieces))
	for _, pc := range pieces {
		out = append(out, model.PlanSlot{
			ChannelID:         channelID,
			Start:             pc.start,
			End:               pc.end,
			Kind:              model.SlotPlaceholder,
			PlaceholderReason: reason,
		})
	}
	return out
}

// preferredFeed picks the primary feed when one exists, else the feed
// with the highest feed_id (stable), else empty.
func preferredFeed(st *store.Store, eventID string) (string, error) {
	feeds, err := st.ListFeedsByEvent(eventID)
	if err != nil {
		return "", fmt.Errorf("feeds for %s: %w", eventID, err)
	}
	if len(feeds) == 0 {
		return "", nil
	}
	for _, f := range feeds {
		if f.IsPrimary {
			return f.FeedID, nil
		}
	}
	return feeds[0].FeedID, nil
}

// checkInvariants verifies, before anything is written, that every lane
// is tiled exactly over the window with non-overlapping slots and that
// event slots reference known events.
func checkInvariants(slots []model.PlanSlot, events map[string]PaddedEvent, lanes []model.Channel, from, to time.Time) error {
	byLane := make(map[string][]model.PlanSlot)
	for _, s := range slots {
		if !s.Start.Before(s.End) {
			return fmt.Errorf("slot %s@%s: start not before end", s.ChannelID, s.Start)
		}
		switch s.Kind {
		case model.SlotEvent:
			if s.EventID == "" {
				return fmt.Errorf("event slot %s@%s: missing event_id", s.ChannelID, s.Start)
			}
			if _, ok := events[s.EventID]; !ok {
				return fmt.Errorf("event slot %s@%s: unknown event %s", s.ChannelID, s.Start, s.EventID)
			}
		case model.SlotPlaceholder:
			if s.EventID != "" {
				return fmt.Errorf("placeholder slot %s@%s: carries event_id", s.ChannelID, s.Start)
			}
		default:
			return fmt.Errorf("slot %s@%s: unknown kind %q", s.ChannelID, s.Start, s.Kind)
		}
		byLane[s.ChannelID] = append(byLane[s.ChannelID], s)
	}
	for _, lane := range lanes {
		laneSlots := byLane[lane.ChannelID]
		if len(laneSlots) == 0 {
			return fmt.Errorf("lane %s: no slots", lane.ChannelID)
		}
		cursor := from
		for _, s := range laneSlots {
			if !s.Start.Equal(cursor) {
				return fmt.Errorf("lane %s: gap or overlap at %s (expected %s)", lane.ChannelID, s.Start, cursor)
			}
			cursor = s.End
		}
		if !cursor.Equal(to) {
			return fmt.Errorf("lane %s: coverage ends at %s, want %s", lane.ChannelID, cursor, to)
		}
	}
	return nil
}

// planChecksum hashes the plan id plus every slot tuple in
// (channel, start) order, so identical content hashes identically.
func planChecksum(planID int64, slots []model.PlanSlot) string {
	sorted := make([]model.PlanSlot, len(slots))
	copy(sorted, slots)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ChannelID == sorted[j].ChannelID {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].ChannelID < sorted[j].ChannelID
	})
	h := sha256.New()
	fmt.Fprintf(h, "%d\n", planID)
	for _, s := range sorted {
		fmt.Fprintf(h, "%s|%d|%d|%s|%s|%s|%s\n",
			s.ChannelID, s.Start.Unix(), s.End.Unix(), s.Kind, s.EventID, s.PreferredFeedID, s.PlaceholderReason)
	}
	return hex.EncodeToString(h.Sum(nil))
}
