package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "ledger_meta: genesis and ledger parameters",
		SQL: `
CREATE TABLE ledger_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "checkpoints + slope_changes: decay lines",
		SQL: `
CREATE TABLE checkpoints (
    owner  TEXT NOT NULL,    -- '' is the global line
    idx    INTEGER NOT NULL,
    epoch  INTEGER NOT NULL,
    bias   TEXT NOT NULL,
    slope  TEXT NOT NULL,

    PRIMARY KEY (owner, idx)
);

CREATE UNIQUE INDEX idx_checkpoints_epoch ON checkpoints(owner, epoch);

CREATE TABLE slope_changes (
    owner  TEXT NOT NULL,
    epoch  INTEGER NOT NULL,
    delta  TEXT NOT NULL,

    PRIMARY KEY (owner, epoch)
);
`,
	},
	{
		Version:     3,
		Description: "positions: open locks",
		SQL: `
CREATE TABLE positions (
    id         INTEGER PRIMARY KEY,
    identity   TEXT NOT NULL CHECK (identity != ''),
    balance    TEXT NOT NULL,
    begin_ts   INTEGER NOT NULL,
    end_ts     INTEGER NOT NULL CHECK (end_ts > begin_ts),
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_positions_identity ON positions(identity);
`,
	},
	{
		Version:     4,
		Description: "accounts: token balances held outside the escrow",
		SQL: `
CREATE TABLE accounts (
    identity   TEXT PRIMARY KEY,
    balance    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     5,
		Description: "events: committed event log",
		SQL: `
CREATE TABLE events (
    id          INTEGER PRIMARY KEY,
    event_id    TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL CHECK (kind IN ('Deposit', 'Withdraw', 'Checkpoint')),
    position_id INTEGER,
    identity    TEXT,
    payload     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_events_identity ON events(identity);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
