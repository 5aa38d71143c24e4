package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lanecast/lanecast/internal/model"
)

// PlanTx is one build's write transaction. All slot and sticky-map writes
// for a plan go through the same transaction, so the new plan and its
// sticky map become visible atomically at Commit. Single-writer: BEGIN
// IMMEDIATE takes the write lock up front, serializing concurrent builds.
type PlanTx struct {
	tx     *sql.Tx
	planID int64
	done   bool
}

// BeginPlan opens the build transaction and allocates the next plan_id.
// The run row is inserted up front; its checksum is filled at Commit.
func (s *Store) BeginPlan(validFrom, validTo time.Time, sourceVersion, note string) (*PlanTx, error) {
	if !validFrom.Before(validTo) {
		return nil, fmt.Errorf("begin plan: valid_from %s not before valid_to %s", validFrom, validTo)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin plan tx: %w", err)
	}
	// database/sql has no IMMEDIATE knob; a no-op write takes the reserved
	// lock now instead of at first slot write.
	if _, err := tx.Exec(`UPDATE plan_run SET plan_id = plan_id WHERE 0`); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("acquire write lock: %w", err)
	}
	res, err := tx.Exec(`
		INSERT INTO plan_run (generated_at_utc, valid_from_utc, valid_to_utc, source_version, note, checksum)
		VALUES (?, ?, ?, ?, ?, '')`,
		time.Now().UTC().Unix(), validFrom.Unix(), validTo.Unix(), sourceVersion, note,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert plan_run: %w", err)
	}
	planID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &PlanTx{tx: tx, planID: planID}, nil
}

// PlanID returns the plan id this transaction is building.
func (p *PlanTx) PlanID() int64 { return p.planID }

// WriteSlot appends one slot to the plan under construction.
func (p *PlanTx) WriteSlot(slot model.PlanSlot) error {
	var eventID, feedID, reason any
	if slot.EventID != "" {
		eventID = slot.EventID
	}
	if slot.PreferredFeedID != "" {
		feedID = slot.PreferredFeedID
	}
	if slot.PlaceholderReason != "" {
		reason = slot.PlaceholderReason
	}
	_, err := p.tx.Exec(`
		INSERT INTO plan_slot (plan_id, channel_id, start_utc, end_utc, kind, event_id, preferred_feed_id, placeholder_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.planID, slot.ChannelID, slot.Start.Unix(), slot.End.Unix(), string(slot.Kind), eventID, feedID, reason,
	)
	if err != nil {
		return fmt.Errorf("write slot %s@%d: %w", slot.ChannelID, slot.Start.Unix(), err)
	}
	return nil
}

// WriteStickyMap upserts the sticky entries produced by this build.
// last_seen always refreshes; pinned_at is kept from the first pin.
func (p *PlanTx) WriteStickyMap(m map[string]string, now time.Time) error {
	ts := now.UTC().Unix()
	for eventID, channelID := range m {
		if _, err := p.tx.Exec(`
			INSERT INTO event_lane (event_id, channel_id, pinned_at_utc, last_seen_utc)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(event_id) DO UPDATE SET
				channel_id=excluded.channel_id, last_seen_utc=excluded.last_seen_utc`,
			eventID, channelID, ts, ts,
		); err != nil {
			return fmt.Errorf("write sticky %s: %w", eventID, err)
		}
	}
	return nil
}

// Commit stamps the checksum and makes the plan the new latest. After
// Commit returns, readers resolve against this plan.
func (p *PlanTx) Commit(checksum string) error {
	if p.done {
		return fmt.Errorf("plan tx already finished")
	}
	if _, err := p.tx.Exec(`UPDATE plan_run SET checksum = ? WHERE plan_id = ?`, checksum, p.planID); err != nil {
		p.tx.Rollback()
		p.done = true
		return fmt.Errorf("stamp checksum: %w", err)
	}
	p.done = true
	if err := p.tx.Commit(); err != nil {
		return fmt.Errorf("commit plan %d: %w", p.planID, err)
	}
	return nil
}

// Rollback abandons the build; the prior plan stays latest. Safe to call
// after Commit (no-op).
func (p *PlanTx) Rollback() error {
	if p.done {
		return nil
	}
	p.done = true
	return p.tx.Rollback()
}
