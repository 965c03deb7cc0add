package room

import (
	"sync"

	"liveclass/pkg/types"
)

// Room is the ephemeral collaborative state of one live session. It exists
// only while the session is live and is destroyed, not archived, when the
// session ends. All mutation goes through the owning Registry; the per-room
// mutex serializes every change so no reader observes a half-applied mutation.
type Room struct {
	sessionID string

	mu          sync.Mutex
	seq         uint64 // per-room sequencing point for broadcast ordering
	members     map[string]types.Participant
	document    *types.DocumentRef
	page        int
	annotations []types.Annotation
	tool        string
	strokes     map[string][]types.Point // per-author in-progress stroke, transient
	scroll      types.ScrollPosition
	chat        []types.ChatMessage
	notes       []types.Note
	micState    map[string]bool
}

func newRoom(sessionID string) *Room {
	return &Room{
		sessionID:   sessionID,
		members:     make(map[string]types.Participant),
		page:        1,
		tool:        types.ToolDraw,
		strokes:     make(map[string][]types.Point),
		micState:    make(map[string]bool),
		annotations: []types.Annotation{},
	}
}

// SessionID returns the session this room belongs to.
func (r *Room) SessionID() string {
	return r.sessionID
}

// AddMember inserts a participant into the member set. Rejoining with the
// same ID replaces the previous entry.
func (r *Room) AddMember(p types.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[p.ID] = p
}

// RemoveMember deletes a participant and their transient state. Returns
// false if the participant was not a member.
func (r *Room) RemoveMember(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[participantID]; !ok {
		return false
	}
	delete(r.members, participantID)
	delete(r.strokes, participantID)
	delete(r.micState, participantID)
	return true
}

// HasMember reports whether the participant is currently joined.
func (r *Room) HasMember(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[participantID]
	return ok
}

// Member returns the participant record for an ID.
func (r *Room) Member(participantID string) (types.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.members[participantID]
	return p, ok
}

// Members returns a copy of the current member set.
func (r *Room) Members() []types.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []types.Participant {
	members := make([]types.Participant, 0, len(r.members))
	for _, p := range r.members {
		members = append(members, p)
	}
	return members
}

// MemberCount returns the number of joined participants.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Snapshot captures the full authoritative room state for the reconciliation
// poll. In-progress strokes are excluded: they are transient per-author state
// that clients keep locally until the stroke is finalized.
func (r *Room) Snapshot() *types.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	annotations := make([]types.Annotation, len(r.annotations))
	copy(annotations, r.annotations)

	chat := make([]types.ChatMessage, len(r.chat))
	copy(chat, r.chat)

	notes := make([]types.Note, len(r.notes))
	copy(notes, r.notes)

	micState := make(map[string]bool, len(r.micState))
	for id, muted := range r.micState {
		micState[id] = muted
	}

	return &types.RoomSnapshot{
		SessionID:   r.sessionID,
		Seq:         r.seq,
		Members:     r.membersLocked(),
		Document:    r.document,
		Page:        r.page,
		Annotations: annotations,
		Tool:        r.tool,
		Scroll:      r.scroll,
		Chat:        chat,
		Notes:       notes,
		MicState:    micState,
	}
}
