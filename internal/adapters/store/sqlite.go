package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mailboxes (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	provider TEXT NOT NULL,
	credential_handle TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_cursors (
	mailbox_id TEXT PRIMARY KEY,
	position TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS inflight_messages (
	mailbox_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	staged_at TEXT NOT NULL,
	PRIMARY KEY (mailbox_id, provider_id)
);
CREATE TABLE IF NOT EXISTS committed_messages (
	mailbox_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	PRIMARY KEY (mailbox_id, provider_id)
);
CREATE TABLE IF NOT EXISTS messages (
	mailbox_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	from_addr TEXT NOT NULL,
	subject TEXT NOT NULL,
	snippet TEXT NOT NULL,
	body TEXT NOT NULL,
	headers TEXT NOT NULL,
	internal_date TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (mailbox_id, provider_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(mailbox_id, status);
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	mailbox_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	merchant TEXT NOT NULL,
	amount TEXT NOT NULL,
	has_amount BOOLEAN NOT NULL,
	currency TEXT NOT NULL,
	date TEXT NOT NULL,
	category TEXT NOT NULL,
	is_recurring BOOLEAN NOT NULL,
	trial_end TEXT,
	renewal_date TEXT,
	conf_merchant REAL NOT NULL,
	conf_amount REAL NOT NULL,
	conf_date REAL NOT NULL,
	confidence REAL NOT NULL,
	method TEXT NOT NULL,
	extracted_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS facts (
	fact_key TEXT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	merchant_key TEXT NOT NULL,
	kind TEXT NOT NULL,
	merchant TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	date TEXT NOT NULL,
	category TEXT NOT NULL,
	recurrence_days INTEGER NOT NULL,
	next_renewal TEXT,
	trial_end TEXT,
	provenance TEXT NOT NULL,
	contributors TEXT NOT NULL,
	revision INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_merchant ON facts(merchant_key);
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	fact_id TEXT NOT NULL,
	fact_revision INTEGER NOT NULL,
	kind TEXT NOT NULL,
	trigger_at TEXT NOT NULL,
	status TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_due ON alerts(status, trigger_at);
CREATE TABLE IF NOT EXISTS drafts (
	id TEXT PRIMARY KEY,
	fact_id TEXT NOT NULL,
	action TEXT NOT NULL,
	to_address TEXT NOT NULL,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	tone TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// NewSQLiteStore opens a SQLite database at the given path and creates the
// schema if it does not exist.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create SQLite schema: %w", err)
	}

	// SQLite serializes writers; a single connection avoids busy errors
	// under the concurrent sync lanes.
	db.SetMaxOpenConns(1)

	return &SQLStore{db: db, logger: logger, rebind: passthrough}, nil
}
