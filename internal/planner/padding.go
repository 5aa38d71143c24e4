package planner

import (
	"time"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/model"
)

// PaddedEvent is an event with its effective (possibly padded) interval.
// The padded endpoints are authoritative downstream: the assigner and
// builder schedule EffStart/EffEnd, never the raw airing times.
type PaddedEvent struct {
	model.Event
	EffStart time.Time
	EffEnd   time.Time
}

// Pad expands each event by the configured pre/post minutes. When
// LiveOnly is set, only events that are neither re-airs nor studio shows
// are padded; everything else keeps its raw interval. Padding may push
// endpoints off the alignment grid on purpose — late-running games are
// exactly what the padding exists for.
func Pad(events []model.Event, cfg config.PaddingConfig) []PaddedEvent {
	pre := time.Duration(cfg.StartMins) * time.Minute
	post := time.Duration(cfg.EndMins) * time.Minute
	out := make([]PaddedEvent, 0, len(events))
	for _, e := range events {
		pe := PaddedEvent{Event: e, EffStart: e.Start, EffEnd: e.Stop}
		if !cfg.LiveOnly || (!e.IsReair && !e.IsStudio) {
			pe.EffStart = e.Start.Add(-pre)
			pe.EffEnd = e.Stop.Add(post)
		}
		out = append(out, pe)
	}
	return out
}
