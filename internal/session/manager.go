package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/room"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Identity is the auth collaborator: resolves a user ID to a display name.
// The core trusts this resolution.
type Identity interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Manager owns session records and enforces the lifecycle invariants,
// chiefly that a lecturer has at most one live session at any time. All
// other components only read sessions through it.
type Manager struct {
	store    interfaces.Store
	rooms    *room.Registry
	notifier interfaces.Notifier
	identity Identity

	mu             sync.RWMutex
	sessions       map[string]*types.Session // sessionID -> record (scheduled + live)
	liveByLecturer map[string]string         // lecturerID -> live sessionID
}

// NewManager creates a session lifecycle manager. identity may be nil, in
// which case lecturer names fall back to the lecturer ID.
func NewManager(store interfaces.Store, rooms *room.Registry, notifier interfaces.Notifier, identity Identity) *Manager {
	return &Manager{
		store:          store,
		rooms:          rooms,
		notifier:       notifier,
		sessions:       make(map[string]*types.Session),
		liveByLecturer: make(map[string]string),
		identity:       identity,
	}
}

// LoadSessions restores scheduled and live session records from the store.
// Rooms are not persisted: every live session gets a fresh empty room, which
// means a restart silently drops in-progress annotations and shared-document
// state. Clients converge onto the empty room through their next poll.
func (m *Manager) LoadSessions(ctx context.Context) error {
	sessions, err := m.store.ListSessionsByState(ctx, types.SessionScheduled, types.SessionLive)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range sessions {
		m.sessions[session.ID] = session
		if session.State == types.SessionLive {
			m.liveByLecturer[session.LecturerID] = session.ID
			if _, err := m.rooms.Create(session.ID); err != nil {
				log.Printf("Failed to rebuild room for session %s: %v", session.ID, err)
			}
		}
	}

	log.Printf("Loaded %d open sessions", len(sessions))
	return nil
}

// snapshot copies a session record so callers never share the pointer the
// manager keeps mutating under its lock. Timestamp pointers are replaced
// wholesale on transition, never written through, so a shallow copy is safe.
func snapshot(s *types.Session) *types.Session {
	copied := *s
	return &copied
}

func (m *Manager) lecturerName(ctx context.Context, lecturerID string) string {
	if m.identity == nil {
		return lecturerID
	}
	name, err := m.identity.DisplayName(ctx, lecturerID)
	if err != nil || name == "" {
		return lecturerID
	}
	return name
}

func validateSessionInput(lecturerID, courseID, topic string) error {
	if !types.IsValidUserID(lecturerID) {
		return ErrInvalidLecturerID
	}
	if courseID == "" {
		return ErrInvalidCourseID
	}
	if len(topic) < 1 || len(topic) > 200 {
		return ErrInvalidTopic
	}
	return nil
}

// StartSession creates a session that is live immediately. Fails with
// ErrLecturerAlreadyLive if the lecturer already has one: multiple client
// instances (web + mobile) can race a double-tap on "start", so the check
// belongs here rather than client-side.
func (m *Manager) StartSession(ctx context.Context, lecturerID, courseID, topic string) (*types.Session, error) {
	if err := validateSessionInput(lecturerID, courseID, topic); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &types.Session{
		ID:           uuid.New().String(),
		CourseID:     courseID,
		LecturerID:   lecturerID,
		LecturerName: m.lecturerName(ctx, lecturerID),
		Topic:        topic,
		StartedAt:    &now,
		State:        types.SessionLive,
	}

	// Reserve the lecturer's live slot before the store round trip so a
	// concurrent start cannot slip in while we wait on I/O.
	m.mu.Lock()
	if _, live := m.liveByLecturer[lecturerID]; live {
		m.mu.Unlock()
		return nil, ErrLecturerAlreadyLive
	}
	m.liveByLecturer[lecturerID] = session.ID
	m.mu.Unlock()

	if err := m.store.CreateSession(ctx, session); err != nil {
		m.mu.Lock()
		delete(m.liveByLecturer, lecturerID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	out := snapshot(session)
	m.mu.Unlock()

	if _, err := m.rooms.Create(session.ID); err != nil {
		log.Printf("Failed to create room for session %s: %v", session.ID, err)
	}

	// Global broadcast: idle dashboards show "class started now".
	m.notifier.BroadcastAll(types.Envelope{
		Event: types.EventSessionStarted,
		Data:  map[string]interface{}{"session": out},
	})

	log.Printf("Session started: id=%s lecturer=%s course=%s", session.ID, lecturerID, courseID)
	return out, nil
}

// ScheduleSession creates a scheduled session for a strictly future time.
// No room is created until the session goes live.
func (m *Manager) ScheduleSession(ctx context.Context, lecturerID, courseID, topic string, at time.Time) (*types.Session, error) {
	if err := validateSessionInput(lecturerID, courseID, topic); err != nil {
		return nil, err
	}
	if !at.After(time.Now()) {
		return nil, ErrInvalidScheduleTime
	}

	at = at.UTC()
	session := &types.Session{
		ID:           uuid.New().String(),
		CourseID:     courseID,
		LecturerID:   lecturerID,
		LecturerName: m.lecturerName(ctx, lecturerID),
		Topic:        topic,
		ScheduledAt:  &at,
		State:        types.SessionScheduled,
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	out := snapshot(session)
	m.mu.Unlock()

	log.Printf("Session scheduled: id=%s lecturer=%s at=%s", session.ID, lecturerID, at.Format(time.RFC3339))
	return out, nil
}

// GoLive transitions a scheduled session to live. The same one-live-session
// invariant applies as for StartSession.
func (m *Manager) GoLive(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.State != types.SessionScheduled {
		m.mu.Unlock()
		return nil, ErrInvalidState
	}
	if _, live := m.liveByLecturer[session.LecturerID]; live {
		m.mu.Unlock()
		return nil, ErrLecturerAlreadyLive
	}
	m.liveByLecturer[session.LecturerID] = session.ID

	now := time.Now().UTC()
	session.StartedAt = &now
	session.State = types.SessionLive
	out := snapshot(session)
	m.mu.Unlock()

	if err := m.store.UpdateSession(ctx, out); err != nil {
		m.mu.Lock()
		delete(m.liveByLecturer, session.LecturerID)
		session.StartedAt = nil
		session.State = types.SessionScheduled
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if _, err := m.rooms.Create(out.ID); err != nil {
		log.Printf("Failed to create room for session %s: %v", out.ID, err)
	}

	m.notifier.BroadcastAll(types.Envelope{
		Event: types.EventSessionStarted,
		Data:  map[string]interface{}{"session": out},
	})

	log.Printf("Session went live: id=%s lecturer=%s", out.ID, out.LecturerID)
	return out, nil
}

// EndSession ends a session, destroys its room, and notifies the room's
// members. Idempotent: ending an already-ended session is a no-op, not an
// error.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		// Not cached: an ended session that fell out of the map, or unknown.
		dbSession, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return ErrSessionNotFound
		}
		if dbSession.State == types.SessionEnded {
			return nil
		}
		m.mu.Lock()
		m.sessions[sessionID] = dbSession
		session = dbSession
	}
	if session.State == types.SessionEnded {
		m.mu.Unlock()
		return nil
	}

	wasLive := session.State == types.SessionLive
	now := time.Now().UTC()
	session.EndedAt = &now
	session.State = types.SessionEnded
	delete(m.liveByLecturer, session.LecturerID)
	delete(m.sessions, sessionID)
	session = snapshot(session)
	m.mu.Unlock()

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	if wasLive {
		// Room-scoped broadcast, distinct from the global session-started:
		// only the members of this room care, and clients that miss it
		// discover termination on their next join or poll.
		m.notifier.BroadcastRoom(sessionID, types.Envelope{
			Event: types.EventSessionEnded,
			Data:  map[string]interface{}{"session_id": sessionID},
		}, "")
		m.rooms.Destroy(sessionID)
	}

	log.Printf("Session ended: id=%s lecturer=%s", session.ID, session.LecturerID)
	return nil
}

// CancelScheduledSession ends a scheduled session before it ever goes live.
// Valid only while the session is scheduled.
func (m *Manager) CancelScheduledSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		// Not cached: ended sessions fall out of the map but are still known
		// records, and cancelling one is a state error, not a missing session.
		dbSession, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return ErrSessionNotFound
		}
		if dbSession.State != types.SessionScheduled {
			return ErrInvalidState
		}
		m.mu.Lock()
		m.sessions[sessionID] = dbSession
		session = dbSession
	}
	if session.State != types.SessionScheduled {
		m.mu.Unlock()
		return ErrInvalidState
	}

	now := time.Now().UTC()
	session.EndedAt = &now
	session.State = types.SessionEnded
	delete(m.sessions, sessionID)
	session = snapshot(session)
	m.mu.Unlock()

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}

	log.Printf("Scheduled session cancelled: id=%s", sessionID)
	return nil
}

// GetSession retrieves a session record, falling back to the store for
// ended sessions.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	if session, exists := m.sessions[sessionID]; exists {
		out := snapshot(session)
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListOpenSessions returns all scheduled and live sessions.
func (m *Manager) ListOpenSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, snapshot(session))
	}
	return sessions, nil
}

// IsSessionLive reports whether a session is currently live (cache-only).
func (m *Manager) IsSessionLive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	return exists && session.State == types.SessionLive
}

// SetParticipantCount records the current room member count on the session.
// Persistence failures are logged, never surfaced: the count is advisory.
func (m *Manager) SetParticipantCount(ctx context.Context, sessionID string, count int) {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return
	}
	session.ParticipantCount = count
	session = snapshot(session)
	m.mu.Unlock()

	if err := m.store.UpdateSession(ctx, session); err != nil {
		log.Printf("Failed to persist participant count for session %s: %v", sessionID, err)
	}
}
