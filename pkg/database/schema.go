package database

import (
	"database/sql"
	"fmt"
)

// Schema for the persistence collaborator. Only session records and chat
// history are durable; room state is in-memory and rebuilt empty on restart.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	course_id         TEXT NOT NULL,
	lecturer_id       TEXT NOT NULL,
	lecturer_name     TEXT NOT NULL DEFAULT '',
	topic             TEXT NOT NULL,
	scheduled_at      INTEGER,
	started_at        INTEGER,
	ended_at          INTEGER,
	state             TEXT NOT NULL CHECK (state IN ('scheduled', 'live', 'ended')),
	participant_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_lecturer ON sessions(lecturer_id, state);

CREATE TABLE IF NOT EXISTS chat_messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	author_id   TEXT NOT NULL,
	author_name TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	sent_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, id);
`

// Bootstrap creates the schema if it does not exist. Idempotent, applied on
// every startup.
func Bootstrap(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return nil
}

// SchemaValidator verifies the database schema after bootstrap.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":      "Session record storage",
		"chat_messages": "Chat history storage",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateIndexes verifies that the query-path indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_state":    "Session state lookups",
		"idx_sessions_lecturer": "Live-session-per-lecturer checks",
		"idx_chat_session":      "Chat history retrieval",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

func (v *SchemaValidator) tableExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
