package broadcast

import (
	"context"
	"errors"
	"log"
	"time"

	"liveclass/internal/room"
	"liveclass/pkg/types"
)

var (
	// ErrForbidden is returned when the capability hook rejects a mutation.
	ErrForbidden = errors.New("participant may not apply this mutation")

	// ErrRateLimited is returned when an author exceeds the chat rate cap.
	ErrRateLimited = errors.New("chat rate limit exceeded")
)

// Chat rate cap per author. Only chat is limited; see RateLimiter.
const (
	chatRateLimit  = 30
	chatRateWindow = time.Minute
)

// Sender delivers push frames; implemented by the websocket registry.
type Sender interface {
	BroadcastRoom(sessionID string, v interface{}, excludeUserID string)
}

// ChatStore is the slice of the persistence collaborator the broadcaster
// needs: durable chat history. Room state itself is never persisted.
type ChatStore interface {
	StoreChatMessage(ctx context.Context, message *types.ChatMessage) error
}

// Capability decides whether a participant may apply a mutation. The default
// allows every joined member to mutate any field, matching the collaborative
// behavior of the original platform; a stricter deployment can restrict
// single-owner fields (document, page, tool) to the lecturer here without
// touching the broadcaster.
type Capability func(author types.Participant, mut room.Mutation) bool

// AllowAll is the default capability: any joined member may apply any mutation.
func AllowAll(types.Participant, room.Mutation) bool { return true }

// LecturerOwnsDocument restricts document, page, tool, and note changes to
// the lecturer while leaving annotations, chat, strokes, scroll, and
// self-mute open to everyone.
func LecturerOwnsDocument(author types.Participant, mut room.Mutation) bool {
	switch mut.Kind {
	case room.MutationShareDocument, room.MutationSetPage, room.MutationSetTool,
		room.MutationShareNote:
		return author.Role == types.RoleLecturer
	case room.MutationSetMic:
		// Students may only toggle themselves.
		if author.Role == types.RoleLecturer {
			return true
		}
		return mut.Target == "" || mut.Target == author.ID
	default:
		return true
	}
}

// Broadcaster accepts state-mutation intents from room members, applies them
// to the room registry, and fans the resulting delta out to every other
// currently joined member. Delivery is at-most-once; disconnected clients
// converge through the reconciliation poll.
type Broadcaster struct {
	rooms      *room.Registry
	sender     Sender
	chats      ChatStore
	capability Capability
	chatLimit  *RateLimiter
}

// NewBroadcaster creates a room state broadcaster. A nil capability defaults
// to AllowAll.
func NewBroadcaster(rooms *room.Registry, sender Sender, chats ChatStore, capability Capability) *Broadcaster {
	if capability == nil {
		capability = AllowAll
	}
	return &Broadcaster{
		rooms:      rooms,
		sender:     sender,
		chats:      chats,
		capability: capability,
		chatLimit:  NewRateLimiter(chatRateLimit, chatRateWindow),
	}
}

// ApplyMutation applies one mutation and broadcasts the delta. Returns
// room.ErrRoomNotFound when the session has no live room, which covers the
// race where the lecturer ended the session between the client's last
// snapshot and this mutation; the client treats that as session ended.
func (b *Broadcaster) ApplyMutation(ctx context.Context, sessionID string, author types.Participant, mut room.Mutation) (*room.Delta, error) {
	rm, err := b.rooms.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if !b.capability(author, mut) {
		return nil, ErrForbidden
	}

	if mut.Kind == room.MutationSendChat && !b.chatLimit.Allow(author.ID) {
		return nil, ErrRateLimited
	}

	delta, err := rm.Apply(author, mut)
	if err != nil {
		return nil, err
	}

	// Chat is the one mutation with a durable side effect. Persistence
	// failure does not roll back the room state or suppress the broadcast;
	// the in-memory log stays authoritative for the running session.
	if delta.Chat != nil && b.chats != nil {
		if err := b.chats.StoreChatMessage(ctx, delta.Chat); err != nil {
			log.Printf("Failed to persist chat message %s: %v", delta.Chat.ID, err)
		}
	}

	// Fan out to everyone currently joined except the author, who already
	// has local-optimistic state.
	b.sender.BroadcastRoom(sessionID, types.Envelope{
		Event: delta.Event,
		Data:  delta,
	}, author.ID)

	return delta, nil
}

// Snapshot returns the full authoritative room state for the reconciliation
// poll, or room.ErrRoomNotFound when the session has no live room.
func (b *Broadcaster) Snapshot(sessionID string) (*types.RoomSnapshot, error) {
	rm, err := b.rooms.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return rm.Snapshot(), nil
}
