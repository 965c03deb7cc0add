package fixtures

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"liveclass/internal/broadcast"
	"liveclass/internal/database"
	"liveclass/internal/relay"
	"liveclass/internal/room"
	"liveclass/internal/session"
	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var _ interfaces.Notifier = (*RecordingNotifier)(nil)

// RecordingNotifier captures push frames instead of delivering them, so
// scenario tests can assert on what would have reached clients.
type RecordingNotifier struct {
	mu     sync.Mutex
	Global []types.Envelope
	Rooms  map[string][]RoomFrame
	Direct map[string][]types.Envelope
}

type RoomFrame struct {
	Envelope types.Envelope
	Exclude  string
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{
		Rooms:  make(map[string][]RoomFrame),
		Direct: make(map[string][]types.Envelope),
	}
}

func (n *RecordingNotifier) BroadcastAll(v interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Global = append(n.Global, v.(types.Envelope))
}

func (n *RecordingNotifier) BroadcastRoom(sessionID string, v interface{}, excludeUserID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Rooms[sessionID] = append(n.Rooms[sessionID], RoomFrame{v.(types.Envelope), excludeUserID})
}

func (n *RecordingNotifier) SendToUser(userID string, v interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Direct[userID] = append(n.Direct[userID], v.(types.Envelope))
	return true
}

// RoomFrames returns the frames pushed to a session's room so far.
func (n *RecordingNotifier) RoomFrames(sessionID string) []RoomFrame {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]RoomFrame(nil), n.Rooms[sessionID]...)
}

// DirectFrames returns the frames sent to one user so far.
func (n *RecordingNotifier) DirectFrames(userID string) []types.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Envelope(nil), n.Direct[userID]...)
}

// Stack is the full core wired against a real SQLite store, without the HTTP
// and websocket layers. Scenario tests drive it the way those layers would.
type Stack struct {
	Store       *database.Manager
	Rooms       *room.Registry
	Notifier    *RecordingNotifier
	Sessions    *session.Manager
	Relay       *relay.Relay
	Broadcaster *broadcast.Broadcaster
}

// NewStack builds a fresh stack on a temporary database.
func NewStack(t *testing.T) *Stack {
	t.Helper()

	store, err := database.NewManager(&dbconfig.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "scenario.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rooms := room.NewRegistry()
	notifier := NewRecordingNotifier()
	sessions := session.NewManager(store, rooms, notifier, nil)

	return &Stack{
		Store:       store,
		Rooms:       rooms,
		Notifier:    notifier,
		Sessions:    sessions,
		Relay:       relay.NewRelay(sessions, rooms, notifier),
		Broadcaster: broadcast.NewBroadcaster(rooms, notifier, store, nil),
	}
}

// Lecturer and Student build participants with conventional roles.
func Lecturer(id string) types.Participant {
	return types.Participant{ID: id, DisplayName: "Lecturer " + id, Role: types.RoleLecturer}
}

func Student(id string) types.Participant {
	return types.Participant{ID: id, DisplayName: "Student " + id, Role: types.RoleStudent}
}
