package planner

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanecast/lanecast/internal/metrics"
	"github.com/lanecast/lanecast/internal/model"
)

// Drop records an event the assigner could not place.
type Drop struct {
	EventID string
	Reason  string
}

// Assignment is the outcome of lane assignment: which lane each accepted
// event landed on, and which events were dropped. Lanes maps event_id to
// channel_id and doubles as the next build's sticky map.
type Assignment struct {
	Lanes   map[string]string
	Dropped []Drop
}

type interval struct {
	start, end time.Time
}

func overlaps(a, b interval) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// Assign places each padded event on exactly one lane, sticky-first.
// Events are processed in effective-start order (tiebreak event_id), so
// on any conflict the earlier event wins. An event whose prior lane no
// longer fits falls through to the first free lane by chno; when nothing
// fits it is dropped with a structured log.
//
// forceReplan ignores the sticky map entirely: the result then depends
// only on the events, the lane set, and their order.
func Assign(events []PaddedEvent, sticky map[string]string, lanes []model.Channel, forceReplan bool, log zerolog.Logger) Assignment {
	if forceReplan {
		sticky = nil
	}

	ordered := make([]PaddedEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EffStart.Equal(ordered[j].EffStart) {
			return ordered[i].EventID < ordered[j].EventID
		}
		return ordered[i].EffStart.Before(ordered[j].EffStart)
	})

	laneOrder := make([]model.Channel, len(lanes))
	copy(laneOrder, lanes)
	sort.SliceStable(laneOrder, func(i, j int) bool { return laneOrder[i].Chno < laneOrder[j].Chno })
	active := make(map[string]bool, len(laneOrder))
	for _, l := range laneOrder {
		active[l.ChannelID] = true
	}

	timelines := make(map[string][]interval, len(laneOrder))
	fits := func(lane string, iv interval) bool {
		for _, existing := range timelines[lane] {
			if overlaps(existing, iv) {
				return false
			}
		}
		return true
	}

	out := Assignment{Lanes: make(map[string]string, len(ordered))}
	for _, e := range ordered {
		iv := interval{start: e.EffStart, end: e.EffEnd}
		placed := ""
		if pref, ok := sticky[e.EventID]; ok && active[pref] && fits(pref, iv) {
			placed = pref
		} else {
			for _, l := range laneOrder {
				if fits(l.ChannelID, iv) {
					placed = l.ChannelID
					break
				}
			}
		}
		if placed == "" {
			out.Dropped = append(out.Dropped, Drop{EventID: e.EventID, Reason: "no_free_lane"})
			metrics.EventsDropped.Inc()
			log.Warn().
				Str("event", "event_overlap_detected").
				Str("event_id", e.EventID).
				Str("reason", "no_free_lane").
				Time("start", e.EffStart).
				Time("end", e.EffEnd).
				Msg("event dropped: no lane can fit it")
			continue
		}
		timelines[placed] = append(timelines[placed], iv)
		out.Lanes[e.EventID] = placed
	}
	return out
}
