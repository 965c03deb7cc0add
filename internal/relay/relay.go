package relay

import (
	"context"
	"encoding/json"
	"log"

	"liveclass/internal/room"
	"liveclass/pkg/types"
)

// Sessions is the slice of the session manager the relay needs: liveness
// checks on join and participant counting.
type Sessions interface {
	IsSessionLive(sessionID string) bool
	SetParticipantCount(ctx context.Context, sessionID string, count int)
}

// Sender delivers push frames; implemented by the websocket registry.
type Sender interface {
	BroadcastRoom(sessionID string, v interface{}, excludeUserID string)
	SendToUser(userID string, v interface{}) bool
}

// Relay routes connection-negotiation payloads between exactly two named
// participants inside a room, and manages join/leave membership. It has no
// visibility into whether a negotiated peer link actually succeeds; its
// contract ends at "message delivered to a still-joined peer".
type Relay struct {
	sessions Sessions
	rooms    *room.Registry
	sender   Sender
}

// NewRelay creates a signaling relay.
func NewRelay(sessions Sessions, rooms *room.Registry, sender Sender) *Relay {
	return &Relay{
		sessions: sessions,
		rooms:    rooms,
		sender:   sender,
	}
}

// SignalEnvelope is the transient routing frame for negotiation payloads.
// It is relayed verbatim and never stored.
type SignalEnvelope struct {
	SessionID string          `json:"session_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// Join adds a participant to a live session's room and announces the join to
// the other current members. Failing with ErrSessionNotLive is the mechanism
// by which a client that missed the session-ended push discovers termination
// on its next join attempt.
func (r *Relay) Join(ctx context.Context, sessionID string, participant types.Participant) error {
	if err := participant.Validate(); err != nil {
		return err
	}

	if !r.sessions.IsSessionLive(sessionID) {
		return ErrSessionNotLive
	}

	rm, err := r.rooms.Get(sessionID)
	if err != nil {
		// Session flagged live but room already destroyed: the lecturer ended
		// it between the check and the lookup. Same signal to the caller.
		return ErrSessionNotLive
	}

	rm.AddMember(participant)
	r.sessions.SetParticipantCount(ctx, sessionID, rm.MemberCount())

	// Announce to the other members, never back to the joiner.
	r.sender.BroadcastRoom(sessionID, types.Envelope{
		Event: types.EventUserJoined,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"user_id":    participant.ID,
			"name":       participant.DisplayName,
			"role":       participant.Role,
		},
	}, participant.ID)

	log.Printf("Participant joined: session=%s user=%s role=%s", sessionID, participant.ID, participant.Role)
	return nil
}

// Leave removes a participant from the room and announces the departure.
// Idempotent: leaving a room the participant is not in, or a room that no
// longer exists, is a no-op. A lecturer leaving does not end the session;
// ending is an explicit lifecycle action.
func (r *Relay) Leave(ctx context.Context, sessionID, participantID string) {
	rm, err := r.rooms.Get(sessionID)
	if err != nil {
		return
	}

	if !rm.RemoveMember(participantID) {
		return
	}
	r.sessions.SetParticipantCount(ctx, sessionID, rm.MemberCount())

	r.sender.BroadcastRoom(sessionID, types.Envelope{
		Event: types.EventUserLeft,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"user_id":    participantID,
		},
	}, participantID)

	log.Printf("Participant left: session=%s user=%s", sessionID, participantID)
}

// Relay forwards a negotiation envelope to the named target, only if both
// endpoints are current members of the room. Returns false when the message
// was dropped; a dropped negotiation message for a since-departed peer is not
// a failure condition, so no error is ever raised and nothing is retried.
func (r *Relay) Relay(env SignalEnvelope) bool {
	if !types.IsValidSignalKind(env.Kind) {
		log.Printf("Signal dropped: invalid kind %q from %s", env.Kind, env.From)
		return false
	}

	rm, err := r.rooms.Get(env.SessionID)
	if err != nil {
		return false
	}

	if !rm.HasMember(env.From) || !rm.HasMember(env.To) {
		return false
	}

	delivered := r.sender.SendToUser(env.To, types.Envelope{
		Event: env.Kind,
		Data: map[string]interface{}{
			"session_id": env.SessionID,
			"from":       env.From,
			"to":         env.To,
			"payload":    env.Payload,
		},
	})
	if !delivered {
		// Member without a live connection: mid-reconnect. Still a drop.
		return false
	}
	return true
}

// ShouldInitiateOffer is the deterministic symmetric-break for offerer
// selection: when two participants discover each other, the one whose ID
// sorts lexicographically smaller initiates the offer. No coordination state
// is needed beyond comparing two known IDs.
func ShouldInitiateOffer(selfID, peerID string) bool {
	return selfID < peerID
}
