package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var _ interfaces.Store = (*Manager)(nil)

// Manager implements the Store interface on SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, bootstraps the schema, and starts the
// single-writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.Bootstrap(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. SQLite
// tolerates only one writer; funneling writes here avoids lock contention.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // Retry once
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// nullableUnix converts an optional time to a nullable epoch-seconds column.
func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

// CreateSession persists a new session record.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, course_id, lecturer_id, lecturer_name, topic,
				scheduled_at, started_at, ended_at, state, participant_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.CourseID, session.LecturerID, session.LecturerName,
			session.Topic, nullableUnix(session.ScheduledAt), nullableUnix(session.StartedAt),
			nullableUnix(session.EndedAt), string(session.State), session.ParticipantCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session record by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, course_id, lecturer_id, lecturer_name, topic,
			scheduled_at, started_at, ended_at, state, participant_count
		FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdateSession persists lifecycle transitions and participant counts.
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `
			UPDATE sessions SET lecturer_name = ?, topic = ?, scheduled_at = ?,
				started_at = ?, ended_at = ?, state = ?, participant_count = ?
			WHERE id = ?`,
			session.LecturerName, session.Topic, nullableUnix(session.ScheduledAt),
			nullableUnix(session.StartedAt), nullableUnix(session.EndedAt),
			string(session.State), session.ParticipantCount, session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListSessionsByState returns all sessions in the given states.
func (m *Manager) ListSessionsByState(ctx context.Context, states ...types.SessionState) ([]*types.Session, error) {
	if len(states) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, course_id, lecturer_id, lecturer_name, topic,
			scheduled_at, started_at, ended_at, state, participant_count
		FROM sessions WHERE state IN (?` // first placeholder
	args := []interface{}{string(states[0])}
	for _, state := range states[1:] {
		query += ", ?"
		args = append(args, string(state))
	}
	query += ")"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// StoreChatMessage appends a chat message to the durable history.
func (m *Manager) StoreChatMessage(ctx context.Context, message *types.ChatMessage) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, session_id, author_id, author_name, body, sent_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			message.ID, message.SessionID, message.AuthorID, message.AuthorName,
			message.Body, message.SentAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
}

// GetChatHistory retrieves a session's chat messages ordered by ID. Message
// IDs are ULIDs, so lexicographic order is arrival order.
func (m *Manager) GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, author_id, author_name, body, sent_at
		FROM chat_messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	defer rows.Close()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var sentAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.AuthorID, &msg.AuthorName, &msg.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msg.SentAt = time.Unix(sentAt, 0).UTC()
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	return m.db.PingContext(ctx)
}

// Close shuts down the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}

// GetDB exposes the underlying handle for schema validation at startup.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var state string
	var scheduledAt, startedAt, endedAt sql.NullInt64

	err := row.Scan(&session.ID, &session.CourseID, &session.LecturerID,
		&session.LecturerName, &session.Topic, &scheduledAt, &startedAt,
		&endedAt, &state, &session.ParticipantCount)
	if err != nil {
		return nil, err
	}

	session.State = types.SessionState(state)
	session.ScheduledAt = unixPtr(scheduledAt)
	session.StartedAt = unixPtr(startedAt)
	session.EndedAt = unixPtr(endedAt)
	return &session, nil
}
