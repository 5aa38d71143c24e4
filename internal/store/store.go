// Package store is the durable state layer: events, feeds, channels,
// plans, and the sticky map, all in one SQLite file. Plan writes happen
// inside a single IMMEDIATE transaction per build, so readers only ever
// see fully committed plans.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/lanecast/lanecast/internal/model"
)

var (
	// ErrNoPlan is returned when no plan has been committed yet.
	ErrNoPlan = errors.New("store: no committed plan")
	// ErrNotFound is returned for missing rows (event, channel, slot).
	ErrNotFound = errors.New("store: not found")
)

// Store wraps the SQLite handle. Safe for concurrent readers; plan
// mutation is serialized by the write transaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	// modernc sqlite serializes at the driver level; a single conn keeps
	// the in-memory database coherent and avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the handle is usable; used by /health.
func (s *Store) Ping() error { return s.db.Ping() }

// EnsureLanes provisions channel rows eplus01..eplusNN (for prefix
// "eplus") and flips active flags so exactly count lanes are active.
// Existing rows keep their names; provisioning is idempotent.
func (s *Store) EnsureLanes(prefix string, count int, group string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("%s%02d", prefix, i)
		name := fmt.Sprintf("%s %02d", group, i)
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO channel (channel_id, chno, name, group_name, active) VALUES (?, ?, ?, ?, 1)`,
			id, i, name, group,
		); err != nil {
			return fmt.Errorf("provision lane %s: %w", id, err)
		}
	}
	if _, err := tx.Exec(`UPDATE channel SET active = CASE WHEN chno <= ? THEN 1 ELSE 0 END`, count); err != nil {
		return fmt.Errorf("set lane activity: %w", err)
	}
	return tx.Commit()
}

// UpsertChannel inserts or updates a single lane row. Used for ad-hoc
// lanes outside the provisioned prefix set.
func (s *Store) UpsertChannel(c model.Channel) error {
	_, err := s.db.Exec(`
		INSERT INTO channel (channel_id, chno, name, group_name, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			chno=excluded.chno, name=excluded.name,
			group_name=excluded.group_name, active=excluded.active`,
		c.ChannelID, c.Chno, c.Name, c.GroupName, boolInt(c.Active),
	)
	if err != nil {
		return fmt.Errorf("upsert channel %s: %w", c.ChannelID, err)
	}
	return nil
}

// ListChannels returns channels ordered by chno. activeOnly restricts to
// active lanes.
func (s *Store) ListChannels(activeOnly bool) ([]model.Channel, error) {
	q := `SELECT channel_id, chno, name, group_name, active FROM channel`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY chno ASC`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		var active int
		if err := rows.Scan(&c.ChannelID, &c.Chno, &c.Name, &c.GroupName, &active); err != nil {
			return nil, err
		}
		c.Active = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChannel looks a lane up by its channel_id.
func (s *Store) GetChannel(channelID string) (model.Channel, error) {
	var c model.Channel
	var active int
	err := s.db.QueryRow(
		`SELECT channel_id, chno, name, group_name, active FROM channel WHERE channel_id = ?`, channelID,
	).Scan(&c.ChannelID, &c.Chno, &c.Name, &c.GroupName, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, ErrNotFound
	}
	if err != nil {
		return model.Channel{}, err
	}
	c.Active = active != 0
	return c, nil
}

// GetChannelByChno looks a lane up by display number.
func (s *Store) GetChannelByChno(chno int) (model.Channel, error) {
	var c model.Channel
	var active int
	err := s.db.QueryRow(
		`SELECT channel_id, chno, name, group_name, active FROM channel WHERE chno = ?`, chno,
	).Scan(&c.ChannelID, &c.Chno, &c.Name, &c.GroupName, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, ErrNotFound
	}
	if err != nil {
		return model.Channel{}, err
	}
	c.Active = active != 0
	return c, nil
}

// UpsertEvent inserts or replaces the event keyed by event_id. Same
// payload twice leaves the row byte-identical (idempotent ingest).
func (s *Store) UpsertEvent(e model.Event) error {
	pkgs, err := json.Marshal(e.Packages)
	if err != nil {
		return fmt.Errorf("marshal packages: %w", err)
	}
	if e.Packages == nil {
		pkgs = []byte("[]")
	}
	_, err = s.db.Exec(`
		INSERT INTO events (event_id, title, subtitle, summary, sport, league_name, league_abbr,
			network, network_short, language, packages, event_type, is_reair, is_studio,
			airing_id, simulcast_airing_id, image, start_utc, stop_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			title=excluded.title, subtitle=excluded.subtitle, summary=excluded.summary,
			sport=excluded.sport, league_name=excluded.league_name, league_abbr=excluded.league_abbr,
			network=excluded.network, network_short=excluded.network_short, language=excluded.language,
			packages=excluded.packages, event_type=excluded.event_type,
			is_reair=excluded.is_reair, is_studio=excluded.is_studio,
			airing_id=excluded.airing_id, simulcast_airing_id=excluded.simulcast_airing_id,
			image=excluded.image, start_utc=excluded.start_utc, stop_utc=excluded.stop_utc`,
		e.EventID, e.Title, e.Subtitle, e.Summary, e.Sport, e.LeagueName, e.LeagueAbbr,
		e.Network, e.NetworkShort, e.Language, string(pkgs), string(e.EventType),
		boolInt(e.IsReair), boolInt(e.IsStudio),
		e.AiringID, e.SimulcastAiringID, e.Image, e.Start.Unix(), e.Stop.Unix(),
	)
	return err
}

// UpsertFeed inserts or replaces a feed keyed by (feed_id, event_id).
func (s *Store) UpsertFeed(f model.Feed) error {
	_, err := s.db.Exec(`
		INSERT INTO feeds (feed_id, event_id, url, is_primary) VALUES (?, ?, ?, ?)
		ON CONFLICT(feed_id, event_id) DO UPDATE SET url=excluded.url, is_primary=excluded.is_primary`,
		f.FeedID, f.EventID, f.URL, boolInt(f.IsPrimary),
	)
	return err
}

// DeleteEventsBefore removes events that ended before t, plus their feeds
// and sticky entries. Returns the number of events removed.
func (s *Store) DeleteEventsBefore(t time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	cut := t.Unix()
	if _, err := tx.Exec(`DELETE FROM feeds WHERE event_id IN (SELECT event_id FROM events WHERE stop_utc < ?)`, cut); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM event_lane WHERE event_id IN (SELECT event_id FROM events WHERE stop_utc < ?)`, cut); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM events WHERE stop_utc < ?`, cut)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// CountEvents returns the total event count (empty-set safety checks).
func (s *Store) CountEvents() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// ListEventsInWindow returns events whose [start, stop) intersects
// [from, to), ordered by start then event_id.
func (s *Store) ListEventsInWindow(from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(`
		SELECT event_id, title, subtitle, summary, sport, league_name, league_abbr,
			network, network_short, language, packages, event_type, is_reair, is_studio,
			airing_id, simulcast_airing_id, image, start_utc, stop_utc
		FROM events
		WHERE start_utc < ? AND stop_utc > ?
		ORDER BY start_utc ASC, event_id ASC`,
		to.Unix(), from.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(eventID string) (model.Event, error) {
	row := s.db.QueryRow(`
		SELECT event_id, title, subtitle, summary, sport, league_name, league_abbr,
			network, network_short, language, packages, event_type, is_reair, is_studio,
			airing_id, simulcast_airing_id, image, start_utc, stop_utc
		FROM events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return e, err
}

// ListFeedsByEvent returns feeds for the event ordered by feed_id
// descending, so index 0 is the stable "highest feed id" fallback.
func (s *Store) ListFeedsByEvent(eventID string) ([]model.Feed, error) {
	rows, err := s.db.Query(
		`SELECT feed_id, event_id, url, is_primary FROM feeds WHERE event_id = ? ORDER BY feed_id DESC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Feed
	for rows.Next() {
		var f model.Feed
		var primary int
		if err := rows.Scan(&f.FeedID, &f.EventID, &f.URL, &primary); err != nil {
			return nil, err
		}
		f.IsPrimary = primary != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFeed fetches one feed of an event.
func (s *Store) GetFeed(eventID, feedID string) (model.Feed, error) {
	var f model.Feed
	var primary int
	err := s.db.QueryRow(
		`SELECT feed_id, event_id, url, is_primary FROM feeds WHERE event_id = ? AND feed_id = ?`,
		eventID, feedID,
	).Scan(&f.FeedID, &f.EventID, &f.URL, &primary)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Feed{}, ErrNotFound
	}
	if err != nil {
		return model.Feed{}, err
	}
	f.IsPrimary = primary != 0
	return f, nil
}

// LoadStickyMap returns event_id → channel_id for every sticky entry.
func (s *Store) LoadStickyMap() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT event_id, channel_id FROM event_lane`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	m := make(map[string]string)
	for rows.Next() {
		var eventID, channelID string
		if err := rows.Scan(&eventID, &channelID); err != nil {
			return nil, err
		}
		m[eventID] = channelID
	}
	return m, rows.Err()
}

// ClearStickyMap drops every sticky entry. Plans are untouched.
func (s *Store) ClearStickyMap() error {
	_, err := s.db.Exec(`DELETE FROM event_lane`)
	return err
}

// ReplaceFilterAudit rewrites the events_filterable audit view with this
// build's decisions.
func (s *Store) ReplaceFilterAudit(decisions map[string]FilterDecision) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM events_filterable`); err != nil {
		return err
	}
	for eventID, d := range decisions {
		if _, err := tx.Exec(
			`INSERT INTO events_filterable (event_id, is_allowed, reasons) VALUES (?, ?, ?)`,
			eventID, boolInt(d.Allowed), d.Reasons,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FilterDecision is one row of the filter audit view.
type FilterDecision struct {
	Allowed bool
	Reasons string
}

// LatestPlanID returns the id of the latest committed plan, or ErrNoPlan.
func (s *Store) LatestPlanID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(plan_id) FROM plan_run`).Scan(&id); err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, ErrNoPlan
	}
	return id.Int64, nil
}

// LatestPlan returns the latest committed plan run, or ErrNoPlan.
func (s *Store) LatestPlan() (model.PlanRun, error) {
	var p model.PlanRun
	var gen, from, to int64
	err := s.db.QueryRow(`
		SELECT plan_id, generated_at_utc, valid_from_utc, valid_to_utc, source_version, note, checksum
		FROM plan_run ORDER BY plan_id DESC LIMIT 1`,
	).Scan(&p.PlanID, &gen, &from, &to, &p.SourceVersion, &p.Note, &p.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanRun{}, ErrNoPlan
	}
	if err != nil {
		return model.PlanRun{}, err
	}
	p.GeneratedAt = time.Unix(gen, 0).UTC()
	p.ValidFrom = time.Unix(from, 0).UTC()
	p.ValidTo = time.Unix(to, 0).UTC()
	return p, nil
}

// FindSlot returns the slot on lane covering instant at within the latest
// plan. When overlapping rows exist (defensive; the builder prevents it)
// the one with the largest start wins. ErrNoPlan / ErrNotFound otherwise.
func (s *Store) FindSlot(channelID string, at time.Time) (model.PlanSlot, error) {
	planID, err := s.LatestPlanID()
	if err != nil {
		return model.PlanSlot{}, err
	}
	row := s.db.QueryRow(`
		SELECT plan_id, channel_id, start_utc, end_utc, kind, event_id, preferred_feed_id, placeholder_reason
		FROM plan_slot
		WHERE plan_id = ? AND channel_id = ? AND start_utc <= ? AND end_utc > ?
		ORDER BY start_utc DESC LIMIT 1`,
		planID, channelID, at.Unix(), at.Unix(),
	)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanSlot{}, ErrNotFound
	}
	return slot, err
}

// ListSlots returns the slots of one lane in one plan, ordered by start.
func (s *Store) ListSlots(planID int64, channelID string) ([]model.PlanSlot, error) {
	rows, err := s.db.Query(`
		SELECT plan_id, channel_id, start_utc, end_utc, kind, event_id, preferred_feed_id, placeholder_reason
		FROM plan_slot WHERE plan_id = ? AND channel_id = ? ORDER BY start_utc ASC`,
		planID, channelID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

// ListAllSlots returns every slot of one plan in lane-then-start order.
func (s *Store) ListAllSlots(planID int64) ([]model.PlanSlot, error) {
	rows, err := s.db.Query(`
		SELECT ps.plan_id, ps.channel_id, ps.start_utc, ps.end_utc, ps.kind,
			ps.event_id, ps.preferred_feed_id, ps.placeholder_reason
		FROM plan_slot ps JOIN channel c ON c.channel_id = ps.channel_id
		WHERE ps.plan_id = ? ORDER BY c.chno ASC, ps.start_utc ASC`,
		planID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

// DeletePlansBefore removes all plan runs except the newest keep.
func (s *Store) DeletePlansBefore(keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`
		DELETE FROM plan_slot WHERE plan_id NOT IN (
			SELECT plan_id FROM plan_run ORDER BY plan_id DESC LIMIT ?)`, keep); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`
		DELETE FROM plan_run WHERE plan_id NOT IN (
			SELECT plan_id FROM plan_run ORDER BY plan_id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var e model.Event
	var pkgs, eventType string
	var reair, studio int
	var start, stop int64
	err := r.Scan(
		&e.EventID, &e.Title, &e.Subtitle, &e.Summary, &e.Sport, &e.LeagueName, &e.LeagueAbbr,
		&e.Network, &e.NetworkShort, &e.Language, &pkgs, &eventType, &reair, &studio,
		&e.AiringID, &e.SimulcastAiringID, &e.Image, &start, &stop,
	)
	if err != nil {
		return model.Event{}, err
	}
	if err := json.Unmarshal([]byte(pkgs), &e.Packages); err != nil {
		return model.Event{}, fmt.Errorf("unmarshal packages for %s: %w", e.EventID, err)
	}
	e.EventType = model.EventType(eventType)
	e.IsReair = reair != 0
	e.IsStudio = studio != 0
	e.Start = time.Unix(start, 0).UTC()
	e.Stop = time.Unix(stop, 0).UTC()
	return e, nil
}

func scanSlot(r rowScanner) (model.PlanSlot, error) {
	var slot model.PlanSlot
	var start, end int64
	var kind string
	var eventID, feedID, reason sql.NullString
	err := r.Scan(&slot.PlanID, &slot.ChannelID, &start, &end, &kind, &eventID, &feedID, &reason)
	if err != nil {
		return model.PlanSlot{}, err
	}
	slot.Start = time.Unix(start, 0).UTC()
	slot.End = time.Unix(end, 0).UTC()
	slot.Kind = model.SlotKind(kind)
	slot.EventID = eventID.String
	slot.PreferredFeedID = feedID.String
	slot.PlaceholderReason = reason.String
	return slot, nil
}

func collectSlots(rows *sql.Rows) ([]model.PlanSlot, error) {
	var out []model.PlanSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}
