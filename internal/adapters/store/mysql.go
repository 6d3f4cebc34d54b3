package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS mailboxes (
		id VARCHAR(36) PRIMARY KEY,
		owner VARCHAR(255) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		credential_handle VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_cursors (
		mailbox_id VARCHAR(36) PRIMARY KEY,
		position VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inflight_messages (
		mailbox_id VARCHAR(36) NOT NULL,
		provider_id VARCHAR(255) NOT NULL,
		staged_at VARCHAR(64) NOT NULL,
		PRIMARY KEY (mailbox_id, provider_id)
	)`,
	`CREATE TABLE IF NOT EXISTS committed_messages (
		mailbox_id VARCHAR(36) NOT NULL,
		provider_id VARCHAR(255) NOT NULL,
		PRIMARY KEY (mailbox_id, provider_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		mailbox_id VARCHAR(36) NOT NULL,
		provider_id VARCHAR(255) NOT NULL,
		from_addr VARCHAR(512) NOT NULL,
		subject TEXT NOT NULL,
		snippet TEXT NOT NULL,
		body MEDIUMTEXT NOT NULL,
		headers TEXT NOT NULL,
		internal_date VARCHAR(64) NOT NULL,
		fetched_at VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		PRIMARY KEY (mailbox_id, provider_id),
		INDEX idx_messages_status (mailbox_id, status)
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id VARCHAR(36) PRIMARY KEY,
		mailbox_id VARCHAR(36) NOT NULL,
		message_id VARCHAR(255) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		merchant VARCHAR(512) NOT NULL,
		amount VARCHAR(64) NOT NULL,
		has_amount BOOLEAN NOT NULL,
		currency VARCHAR(8) NOT NULL,
		date VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		is_recurring BOOLEAN NOT NULL,
		trial_end VARCHAR(64),
		renewal_date VARCHAR(64),
		conf_merchant DOUBLE NOT NULL,
		conf_amount DOUBLE NOT NULL,
		conf_date DOUBLE NOT NULL,
		confidence DOUBLE NOT NULL,
		method VARCHAR(16) NOT NULL,
		extracted_at VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS facts (
		fact_key VARCHAR(512) PRIMARY KEY,
		id VARCHAR(36) NOT NULL UNIQUE,
		merchant_key VARCHAR(255) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		merchant VARCHAR(512) NOT NULL,
		amount VARCHAR(64) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		date VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		recurrence_days INT NOT NULL,
		next_renewal VARCHAR(64),
		trial_end VARCHAR(64),
		provenance TEXT NOT NULL,
		contributors TEXT NOT NULL,
		revision INT NOT NULL,
		created_at VARCHAR(64) NOT NULL,
		updated_at VARCHAR(64) NOT NULL,
		INDEX idx_facts_merchant (merchant_key)
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id VARCHAR(36) PRIMARY KEY,
		fact_id VARCHAR(36) NOT NULL,
		fact_revision INT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		trigger_at VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		title VARCHAR(512) NOT NULL,
		body TEXT NOT NULL,
		created_at VARCHAR(64) NOT NULL,
		INDEX idx_alerts_due (status, trigger_at)
	)`,
	`CREATE TABLE IF NOT EXISTS drafts (
		id VARCHAR(36) PRIMARY KEY,
		fact_id VARCHAR(36) NOT NULL,
		action VARCHAR(32) NOT NULL,
		to_address VARCHAR(512) NOT NULL,
		subject TEXT NOT NULL,
		body MEDIUMTEXT NOT NULL,
		tone VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at VARCHAR(64) NOT NULL
	)`,
}

// NewMySQLStore connects to MySQL with the given DSN and creates the schema
// if it does not exist.
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	for _, stmt := range mysqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create MySQL schema: %w", err)
		}
	}

	return &SQLStore{db: db, logger: logger, rebind: passthrough}, nil
}
