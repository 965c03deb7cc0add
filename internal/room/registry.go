package room

import (
	"log"
	"sync"
)

// Registry is the single source of truth for live room state in this process.
// It holds one Room per live session; the registry lock only guards the map,
// while each Room carries its own mutex so mutations in different rooms
// proceed fully in parallel.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room registry. Rooms are not persisted: a
// process restart rebuilds this registry empty.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// Create makes an empty room for a session going live.
func (r *Registry) Create(sessionID string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[sessionID]; exists {
		return nil, ErrRoomExists
	}

	rm := newRoom(sessionID)
	r.rooms[sessionID] = rm
	log.Printf("Room created: session=%s", sessionID)
	return rm, nil
}

// Destroy removes a session's room. Idempotent: destroying a room that does
// not exist is a no-op.
func (r *Registry) Destroy(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[sessionID]; exists {
		delete(r.rooms, sessionID)
		log.Printf("Room destroyed: session=%s", sessionID)
	}
}

// Get returns the room for a live session.
func (r *Registry) Get(sessionID string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[sessionID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
