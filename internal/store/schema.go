package store

import (
	"database/sql"
	"fmt"
)

// Schema is applied with CREATE TABLE IF NOT EXISTS so init is idempotent.
// Later releases add columns through ensureColumns; existing columns are
// never dropped or retyped.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		event_id            TEXT PRIMARY KEY,
		title               TEXT NOT NULL DEFAULT '',
		subtitle            TEXT NOT NULL DEFAULT '',
		summary             TEXT NOT NULL DEFAULT '',
		sport               TEXT NOT NULL DEFAULT '',
		league_name         TEXT NOT NULL DEFAULT '',
		league_abbr         TEXT NOT NULL DEFAULT '',
		network             TEXT NOT NULL DEFAULT '',
		network_short       TEXT NOT NULL DEFAULT '',
		language            TEXT NOT NULL DEFAULT '',
		packages            TEXT NOT NULL DEFAULT '[]',
		event_type          TEXT NOT NULL DEFAULT 'UNKNOWN',
		is_reair            INTEGER NOT NULL DEFAULT 0,
		is_studio           INTEGER NOT NULL DEFAULT 0,
		airing_id           TEXT NOT NULL DEFAULT '',
		simulcast_airing_id TEXT NOT NULL DEFAULT '',
		image               TEXT NOT NULL DEFAULT '',
		start_utc           INTEGER NOT NULL,
		stop_utc            INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_window ON events(start_utc, stop_utc)`,

	`CREATE TABLE IF NOT EXISTS feeds (
		feed_id    TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		url        TEXT NOT NULL,
		is_primary INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (feed_id, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feeds_event ON feeds(event_id)`,

	`CREATE TABLE IF NOT EXISTS channel (
		channel_id TEXT PRIMARY KEY,
		chno       INTEGER NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		group_name TEXT NOT NULL DEFAULT '',
		active     INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS plan_run (
		plan_id          INTEGER PRIMARY KEY AUTOINCREMENT,
		generated_at_utc INTEGER NOT NULL,
		valid_from_utc   INTEGER NOT NULL,
		valid_to_utc     INTEGER NOT NULL,
		source_version   TEXT NOT NULL DEFAULT '',
		note             TEXT NOT NULL DEFAULT '',
		checksum         TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS plan_slot (
		plan_id            INTEGER NOT NULL,
		channel_id         TEXT NOT NULL,
		start_utc          INTEGER NOT NULL,
		end_utc            INTEGER NOT NULL,
		kind               TEXT NOT NULL,
		event_id           TEXT,
		preferred_feed_id  TEXT,
		placeholder_reason TEXT,
		PRIMARY KEY (plan_id, channel_id, start_utc)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plan_slot_lookup ON plan_slot(plan_id, channel_id, start_utc, end_utc)`,

	`CREATE TABLE IF NOT EXISTS event_lane (
		event_id      TEXT PRIMARY KEY,
		channel_id    TEXT NOT NULL,
		pinned_at_utc INTEGER NOT NULL,
		last_seen_utc INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events_filterable (
		event_id   TEXT PRIMARY KEY,
		is_allowed INTEGER NOT NULL,
		reasons    TEXT NOT NULL DEFAULT ''
	)`,
}

// laterColumns lists columns added after the first schema version, keyed
// by table. ensureColumns adds any that are missing, so upgrades from an
// older data directory are additive.
var laterColumns = map[string][]struct{ name, decl string }{
	"events": {
		{"simulcast_airing_id", "TEXT NOT NULL DEFAULT ''"},
		{"image", "TEXT NOT NULL DEFAULT ''"},
	},
	"plan_run": {
		{"source_version", "TEXT NOT NULL DEFAULT ''"},
	},
}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	for table, cols := range laterColumns {
		existing, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if existing[c.name] {
				continue
			}
			if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.decl)); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, c.name, err)
			}
		}
	}
	// Older data dirs stored chno as text; normalize once so ordering by
	// chno is numeric everywhere.
	if _, err := db.Exec(`UPDATE channel SET chno = CAST(chno AS INTEGER) WHERE typeof(chno) = 'text'`); err != nil {
		return fmt.Errorf("normalize chno: %w", err)
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
