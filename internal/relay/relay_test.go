package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"liveclass/internal/room"
	"liveclass/pkg/types"
)

// mockSessions controls liveness per session ID.
type mockSessions struct {
	mu     sync.Mutex
	live   map[string]bool
	counts map[string]int
}

func newMockSessions(liveIDs ...string) *mockSessions {
	m := &mockSessions{live: make(map[string]bool), counts: make(map[string]int)}
	for _, id := range liveIDs {
		m.live[id] = true
	}
	return m
}

func (m *mockSessions) IsSessionLive(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[sessionID]
}

func (m *mockSessions) SetParticipantCount(ctx context.Context, sessionID string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[sessionID] = count
}

// mockSender records frames per recipient and room broadcasts.
type mockSender struct {
	mu         sync.Mutex
	direct     map[string][]types.Envelope
	broadcasts []broadcastCall
}

type broadcastCall struct {
	sessionID string
	envelope  types.Envelope
	exclude   string
}

func newMockSender() *mockSender {
	return &mockSender{direct: make(map[string][]types.Envelope)}
}

func (m *mockSender) BroadcastRoom(sessionID string, v interface{}, excludeUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, broadcastCall{sessionID, v.(types.Envelope), excludeUserID})
}

func (m *mockSender) SendToUser(userID string, v interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[userID] = append(m.direct[userID], v.(types.Envelope))
	return true
}

func participant(id, role string) types.Participant {
	return types.Participant{ID: id, DisplayName: "Name " + id, Role: role}
}

func newTestRelay(t *testing.T, liveIDs ...string) (*Relay, *room.Registry, *mockSender, *mockSessions) {
	t.Helper()
	sessions := newMockSessions(liveIDs...)
	rooms := room.NewRegistry()
	for _, id := range liveIDs {
		if _, err := rooms.Create(id); err != nil {
			t.Fatalf("failed to create room: %v", err)
		}
	}
	sender := newMockSender()
	return NewRelay(sessions, rooms, sender), rooms, sender, sessions
}

func TestRelay_Join_AddsMemberAndAnnounces(t *testing.T) {
	r, rooms, sender, sessions := newTestRelay(t, "s1")
	ctx := context.Background()

	if err := r.Join(ctx, "s1", participant("b", types.RoleLecturer)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := r.Join(ctx, "s1", participant("a", types.RoleStudent)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	rm, _ := rooms.Get("s1")
	if !rm.HasMember("a") || !rm.HasMember("b") {
		t.Error("expected both participants in members")
	}

	// Second join announced to others, not back to joiner.
	last := sender.broadcasts[len(sender.broadcasts)-1]
	if last.envelope.Event != types.EventUserJoined {
		t.Errorf("got event %s, want user-joined", last.envelope.Event)
	}
	if last.exclude != "a" {
		t.Errorf("join for %q must exclude the joiner, excluded %q", "a", last.exclude)
	}

	if sessions.counts["s1"] != 2 {
		t.Errorf("participant count = %d, want 2", sessions.counts["s1"])
	}
}

func TestRelay_Join_SessionNotLive(t *testing.T) {
	r, rooms, _, _ := newTestRelay(t) // no live sessions
	if _, err := rooms.Create("s1"); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	err := r.Join(context.Background(), "s1", participant("a", types.RoleStudent))
	if err != ErrSessionNotLive {
		t.Errorf("expected ErrSessionNotLive, got %v", err)
	}

	rm, _ := rooms.Get("s1")
	if rm.MemberCount() != 0 {
		t.Error("failed join must never add the caller to members")
	}
}

func TestRelay_Join_RoomAlreadyDestroyed(t *testing.T) {
	r, rooms, _, _ := newTestRelay(t, "s1")
	rooms.Destroy("s1")

	err := r.Join(context.Background(), "s1", participant("a", types.RoleStudent))
	if err != ErrSessionNotLive {
		t.Errorf("expected ErrSessionNotLive when room destroyed mid-race, got %v", err)
	}
}

func TestRelay_Join_InvalidParticipant(t *testing.T) {
	r, _, _, _ := newTestRelay(t, "s1")

	err := r.Join(context.Background(), "s1", types.Participant{ID: "bad id", DisplayName: "x", Role: types.RoleStudent})
	if err == nil {
		t.Error("expected validation error for invalid participant ID")
	}
}

func TestRelay_Leave_RemovesAndAnnounces(t *testing.T) {
	r, rooms, sender, sessions := newTestRelay(t, "s1")
	ctx := context.Background()

	if err := r.Join(ctx, "s1", participant("a", types.RoleStudent)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := r.Join(ctx, "s1", participant("b", types.RoleStudent)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	r.Leave(ctx, "s1", "a")

	rm, _ := rooms.Get("s1")
	if rm.HasMember("a") {
		t.Error("a should have been removed from members")
	}
	if sessions.counts["s1"] != 1 {
		t.Errorf("participant count = %d, want 1", sessions.counts["s1"])
	}

	last := sender.broadcasts[len(sender.broadcasts)-1]
	if last.envelope.Event != types.EventUserLeft {
		t.Errorf("got event %s, want user-left", last.envelope.Event)
	}

	// Idempotent: leaving again and leaving unknown rooms are no-ops.
	before := len(sender.broadcasts)
	r.Leave(ctx, "s1", "a")
	r.Leave(ctx, "ghost", "a")
	if len(sender.broadcasts) != before {
		t.Error("repeated leave must not broadcast")
	}
}

func TestRelay_LecturerLeaveDoesNotEndSession(t *testing.T) {
	r, rooms, _, sessions := newTestRelay(t, "s1")
	ctx := context.Background()

	if err := r.Join(ctx, "s1", participant("lect", types.RoleLecturer)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := r.Join(ctx, "s1", participant("stud", types.RoleStudent)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	r.Leave(ctx, "s1", "lect")

	if !sessions.IsSessionLive("s1") {
		t.Error("lecturer leaving must not end the session")
	}
	if _, err := rooms.Get("s1"); err != nil {
		t.Error("room must survive the lecturer leaving")
	}
}

func TestRelay_Relay_DeliversBetweenMembers(t *testing.T) {
	r, _, sender, _ := newTestRelay(t, "s1")
	ctx := context.Background()

	_ = r.Join(ctx, "s1", participant("a", types.RoleLecturer))
	_ = r.Join(ctx, "s1", participant("b", types.RoleStudent))

	delivered := r.Relay(SignalEnvelope{
		SessionID: "s1", From: "a", To: "b",
		Kind: types.SignalOffer, Payload: json.RawMessage(`{"sdp":"v=0"}`),
	})
	if !delivered {
		t.Fatal("expected offer to be delivered")
	}

	frames := sender.direct["b"]
	if len(frames) != 1 || frames[0].Event != types.SignalOffer {
		t.Errorf("unexpected frames for b: %+v", frames)
	}
}

func TestRelay_Relay_DropsWhenTargetNotMember(t *testing.T) {
	r, _, sender, _ := newTestRelay(t, "s1")
	ctx := context.Background()

	_ = r.Join(ctx, "s1", participant("a", types.RoleLecturer))

	delivered := r.Relay(SignalEnvelope{
		SessionID: "s1", From: "a", To: "departed",
		Kind: types.SignalCandidate, Payload: json.RawMessage(`{}`),
	})
	if delivered {
		t.Error("relay to a non-member must be dropped")
	}
	if len(sender.direct["departed"]) != 0 {
		t.Error("nothing may be sent to a non-member")
	}
}

func TestRelay_Relay_DropsWhenSenderNotMember(t *testing.T) {
	r, _, _, _ := newTestRelay(t, "s1")
	_ = r.Join(context.Background(), "s1", participant("b", types.RoleStudent))

	if r.Relay(SignalEnvelope{SessionID: "s1", From: "ghost", To: "b", Kind: types.SignalAnswer}) {
		t.Error("relay from a non-member must be dropped")
	}
}

func TestRelay_Relay_DropsUnknownKindAndRoom(t *testing.T) {
	r, _, _, _ := newTestRelay(t, "s1")
	ctx := context.Background()
	_ = r.Join(ctx, "s1", participant("a", types.RoleLecturer))
	_ = r.Join(ctx, "s1", participant("b", types.RoleStudent))

	if r.Relay(SignalEnvelope{SessionID: "s1", From: "a", To: "b", Kind: "webrtc-restart"}) {
		t.Error("unknown signal kinds must be dropped")
	}
	if r.Relay(SignalEnvelope{SessionID: "ghost", From: "a", To: "b", Kind: types.SignalOffer}) {
		t.Error("relay into a missing room must be dropped")
	}
}

func TestShouldInitiateOffer_Deterministic(t *testing.T) {
	// "a" sorts before "b": a initiates, b never does.
	if !ShouldInitiateOffer("a", "b") {
		t.Error(`"a" should initiate toward "b"`)
	}
	if ShouldInitiateOffer("b", "a") {
		t.Error(`"b" must never independently initiate toward "a"`)
	}
	// A participant never initiates toward itself.
	if ShouldInitiateOffer("a", "a") {
		t.Error("equal IDs must not initiate")
	}
}
