package websocket

import (
	"log"
	"sync"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Registry tracks live connections and is the push fan-out point: it
// implements the Notifier interface consumed by the session manager, the
// signaling relay, and the state broadcaster. It holds no session or room
// logic, only connection bookkeeping and delivery.
type Registry struct {
	mu               sync.RWMutex
	globalConns      map[string]*Connection            // userID -> Connection
	sessionLecturers map[string]map[string]*Connection // sessionID -> userID -> Connection
	sessionStudents  map[string]map[string]*Connection // sessionID -> userID -> Connection
}

var _ interfaces.Notifier = (*Registry)(nil)

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		globalConns:      make(map[string]*Connection),
		sessionLecturers: make(map[string]map[string]*Connection),
		sessionStudents:  make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a connection to the registry. A user reconnecting
// replaces their previous connection; the old one is closed asynchronously so
// registration never blocks on a slow close.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()
	role := conn.GetRole()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.globalConns[userID]; exists {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection for %s: %v", userID, err)
			}
		}()
	}

	r.globalConns[userID] = conn

	byRole := r.sessionStudents
	if role == types.RoleLecturer {
		byRole = r.sessionLecturers
	}
	if byRole[sessionID] == nil {
		byRole[sessionID] = make(map[string]*Connection)
	}
	byRole[sessionID][userID] = conn

	return nil
}

// UnregisterConnection removes a connection. Idempotent, and a no-op when a
// newer connection has already replaced this one, so a reconnect's cleanup of
// the old connection never evicts the new one.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	userID := conn.GetUserID()
	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.globalConns[userID]
	if !exists || registered != conn {
		return
	}

	sessionID := conn.GetSessionID()
	delete(r.globalConns, userID)

	for _, byRole := range []map[string]map[string]*Connection{r.sessionLecturers, r.sessionStudents} {
		if members, ok := byRole[sessionID]; ok {
			delete(members, userID)
			if len(members) == 0 {
				delete(byRole, sessionID)
			}
		}
	}
}

// GetUserConnection returns the current connection for a user.
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.globalConns[userID]
	return conn, exists
}

func (r *Registry) sessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, conn := range r.sessionLecturers[sessionID] {
		conns = append(conns, conn)
	}
	for _, conn := range r.sessionStudents[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// BroadcastAll pushes a frame to every connected client regardless of
// session. Used for global announcements like a session going live.
func (r *Registry) BroadcastAll(v interface{}) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.globalConns))
	for _, conn := range r.globalConns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("Broadcast delivery failed: user=%s err=%v", conn.GetUserID(), err)
		}
	}
}

// BroadcastRoom pushes a frame to every connection in a session except
// excludeUserID. Pass an empty excludeUserID to reach everyone. Delivery is
// at-most-once; failures are logged and not retried, since disconnected
// clients converge through the reconciliation poll.
func (r *Registry) BroadcastRoom(sessionID string, v interface{}, excludeUserID string) {
	for _, conn := range r.sessionConnections(sessionID) {
		if conn.GetUserID() == excludeUserID {
			continue
		}
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("Room delivery failed: session=%s user=%s err=%v", sessionID, conn.GetUserID(), err)
		}
	}
}

// SendToUser pushes a frame to a single user. Returns false when the user has
// no live connection or the write fails.
func (r *Registry) SendToUser(userID string, v interface{}) bool {
	conn, exists := r.GetUserConnection(userID)
	if !exists {
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		log.Printf("Direct delivery failed: user=%s err=%v", userID, err)
		return false
	}
	return true
}

// GetStats reports connection counts for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[string]bool)
	for sessionID := range r.sessionLecturers {
		sessions[sessionID] = true
	}
	for sessionID := range r.sessionStudents {
		sessions[sessionID] = true
	}

	return map[string]int{
		"total_connections": len(r.globalConns),
		"active_sessions":   len(sessions),
	}
}
