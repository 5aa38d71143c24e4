// Package model holds the persisted entities shared by the ingest worker,
// the planner, and the resolver. Everything here is plain data: components
// that mutate state do so through the store, never by reaching into each
// other's copies.
package model

import (
	"strings"
	"time"
)

// EventType classifies an upstream airing. Values mirror the watch-graph
// feed verbatim so ingest can round-trip unknown payloads as UNKNOWN.
type EventType string

const (
	EventLive     EventType = "LIVE"
	EventUpcoming EventType = "UPCOMING"
	EventOver     EventType = "OVER"
	EventReplay   EventType = "REPLAY"
	EventStudio   EventType = "STUDIO"
	EventUnknown  EventType = "UNKNOWN"
)

// ParseEventType maps an upstream type string to a known EventType,
// defaulting to EventUnknown. Case-insensitive.
func ParseEventType(s string) EventType {
	switch EventType(strings.ToUpper(strings.TrimSpace(s))) {
	case EventLive:
		return EventLive
	case EventUpcoming:
		return EventUpcoming
	case EventOver:
		return EventOver
	case EventReplay:
		return EventReplay
	case EventStudio:
		return EventStudio
	default:
		return EventUnknown
	}
}

// Event is one upstream airing. Identity is EventID, stable across
// refreshes; ingest upserts by it and planning never mutates it.
type Event struct {
	EventID           string
	Title             string
	Subtitle          string
	Summary           string
	Sport             string
	LeagueName        string
	LeagueAbbr        string
	Network           string
	NetworkShort      string
	Language          string
	Packages          []string
	EventType         EventType
	IsReair           bool
	IsStudio          bool
	AiringID          string
	SimulcastAiringID string
	Image             string
	Start             time.Time // UTC; invariant Start < Stop
	Stop              time.Time // UTC
}

// PlayID returns the first segment of the event id up to the first ':'.
// Event ids arrive as "<play_id>" or "<play_id>:<feed_id>".
func (e Event) PlayID() string {
	if i := strings.IndexByte(e.EventID, ':'); i >= 0 {
		return e.EventID[:i]
	}
	return e.EventID
}

// HasPackage reports whether pkg is in the event's package set.
// Comparison is case-insensitive.
func (e Event) HasPackage(pkg string) bool {
	for _, p := range e.Packages {
		if strings.EqualFold(p, pkg) {
			return true
		}
	}
	return false
}

// Feed is a playable stream for an event. At most one feed per event
// carries IsPrimary.
type Feed struct {
	FeedID    string
	EventID   string
	URL       string
	IsPrimary bool
}

// Channel is a stable virtual lane. Provisioned once at schema init;
// ChannelID is e.g. "eplus01", Chno its numeric display number.
type Channel struct {
	ChannelID string
	Chno      int
	Name      string
	GroupName string
	Active    bool
}

// PlanRun is one committed plan version. The latest plan is the committed
// run with the highest PlanID; older runs are retained for audit.
type PlanRun struct {
	PlanID        int64
	GeneratedAt   time.Time
	ValidFrom     time.Time
	ValidTo       time.Time
	SourceVersion string
	Note          string
	Checksum      string
}

// SlotKind distinguishes real events from standby filler.
type SlotKind string

const (
	SlotEvent       SlotKind = "event"
	SlotPlaceholder SlotKind = "placeholder"
)

// Placeholder reasons, recorded per filler slot.
const (
	GapBefore  = "gap_before"
	GapBetween = "gap_between"
	GapAfter   = "gap_after"
)

// PlanSlot is one scheduled interval on one lane within a plan.
// Invariants: Start < End; slots on a lane within a plan neither overlap
// nor leave gaps inside the plan's validity window.
type PlanSlot struct {
	PlanID            int64
	ChannelID         string
	Start             time.Time
	End               time.Time
	Kind              SlotKind
	EventID           string // set iff Kind == SlotEvent
	PreferredFeedID   string
	PlaceholderReason string
}

// IsEvent reports whether the slot carries a real event.
func (s PlanSlot) IsEvent() bool { return s.Kind == SlotEvent }
