// Package store is the persistence collaborator for the connectors. A
// single aide.db SQLite file holds accounts, chats, and canonical messages
// for both platforms; SQLite serializes writes, so concurrent upserts from
// the two connectors are safe. Platform session blobs live elsewhere (see
// the session package).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id           TEXT PRIMARY KEY,
    platform     TEXT NOT NULL,
    display_name TEXT DEFAULT '',
    phone_handle TEXT DEFAULT '',
    is_connected INTEGER DEFAULT 0,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_platform ON accounts(platform);

CREATE TABLE IF NOT EXISTS chats (
    id                   TEXT PRIMARY KEY,
    account_id           TEXT NOT NULL,
    name                 TEXT DEFAULT '',
    is_group             INTEGER DEFAULT 0,
    unread_count         INTEGER DEFAULT 0,
    last_message_body    TEXT DEFAULT '',
    last_message_at      INTEGER DEFAULT 0,
    last_message_from_me INTEGER DEFAULT 0,
    updated_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_account_last ON chats(account_id, last_message_at);

CREATE TABLE IF NOT EXISTS messages (
    id          TEXT NOT NULL,
    chat_id     TEXT NOT NULL,
    account_id  TEXT NOT NULL,
    body        TEXT DEFAULT '',
    from_id     TEXT DEFAULT '',
    from_name   TEXT DEFAULT '',
    timestamp   INTEGER NOT NULL,
    is_from_me  INTEGER DEFAULT 0,
    has_media   INTEGER DEFAULT 0,
    type        TEXT DEFAULT 'text',
    ai_response TEXT DEFAULT '',
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (chat_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(timestamp);
`

// Store wraps the aide.db SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL mode and creates
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
