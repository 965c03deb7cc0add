package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"liveclass/internal/room"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Mock store for testing

type mockStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session

	shouldFailCreate bool
	shouldFailUpdate bool
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]*types.Session)}
}

func (m *mockStore) CreateSession(ctx context.Context, session *types.Session) error {
	if m.shouldFailCreate {
		return errors.New("store create failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockStore) UpdateSession(ctx context.Context, session *types.Session) error {
	if m.shouldFailUpdate {
		return errors.New("store update failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; !exists {
		return interfaces.ErrSessionNotFound
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockStore) ListSessionsByState(ctx context.Context, states ...types.SessionState) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*types.Session
	for _, session := range m.sessions {
		for _, state := range states {
			if session.State == state {
				copied := *session
				result = append(result, &copied)
			}
		}
	}
	return result, nil
}

func (m *mockStore) StoreChatMessage(ctx context.Context, message *types.ChatMessage) error {
	return nil
}

func (m *mockStore) GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	return nil, nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

// Mock notifier recording pushes

type mockNotifier struct {
	mu     sync.Mutex
	global []types.Envelope
	room   map[string][]types.Envelope
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{room: make(map[string][]types.Envelope)}
}

func (m *mockNotifier) BroadcastAll(v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = append(m.global, v.(types.Envelope))
}

func (m *mockNotifier) BroadcastRoom(sessionID string, v interface{}, excludeUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room[sessionID] = append(m.room[sessionID], v.(types.Envelope))
}

func (m *mockNotifier) SendToUser(userID string, v interface{}) bool { return true }

func newTestManager(t *testing.T) (*Manager, *mockStore, *room.Registry, *mockNotifier) {
	t.Helper()
	store := newMockStore()
	rooms := room.NewRegistry()
	notifier := newMockNotifier()
	return NewManager(store, rooms, notifier, nil), store, rooms, notifier
}

func TestManager_StartSession(t *testing.T) {
	m, store, rooms, notifier := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if session.State != types.SessionLive {
		t.Errorf("got state %s, want live", session.State)
	}
	if session.StartedAt == nil {
		t.Error("expected started_at to be set")
	}

	if _, err := store.GetSession(ctx, session.ID); err != nil {
		t.Error("session must be persisted")
	}
	if _, err := rooms.Get(session.ID); err != nil {
		t.Error("an empty room must exist for a live session")
	}

	if len(notifier.global) != 1 || notifier.global[0].Event != types.EventSessionStarted {
		t.Error("expected a global session-started broadcast")
	}
}

func TestManager_StartSession_OneLivePerLecturer(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatalf("first StartSession failed: %v", err)
	}

	_, err = m.StartSession(ctx, "lect-1", "course-2", "Systems")
	if err != ErrLecturerAlreadyLive {
		t.Fatalf("expected ErrLecturerAlreadyLive, got %v", err)
	}

	// First session unaffected.
	got, err := m.GetSession(ctx, first.ID)
	if err != nil || got.State != types.SessionLive {
		t.Error("first session must remain live after rejected second start")
	}

	// A different lecturer is unaffected.
	if _, err := m.StartSession(ctx, "lect-2", "course-2", "Systems"); err != nil {
		t.Errorf("different lecturer should be able to start: %v", err)
	}
}

func TestManager_StartSession_ConcurrentRace(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, rejections int

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				successes++
			case ErrLecturerAlreadyLive:
				rejections++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || rejections != 9 {
		t.Errorf("got %d successes and %d rejections, want 1 and 9", successes, rejections)
	}
}

func TestManager_StartSession_RollbackOnStoreFailure(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	ctx := context.Background()
	store.shouldFailCreate = true

	if _, err := m.StartSession(ctx, "lect-1", "course-1", "Signals"); err == nil {
		t.Fatal("expected store failure to surface")
	}

	// The live slot reservation must be rolled back.
	store.shouldFailCreate = false
	if _, err := m.StartSession(ctx, "lect-1", "course-1", "Signals"); err != nil {
		t.Errorf("lecturer should be able to start after rollback: %v", err)
	}
}

func TestManager_ScheduleSession(t *testing.T) {
	m, _, rooms, _ := newTestManager(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour)
	session, err := m.ScheduleSession(ctx, "lect-1", "course-1", "Signals", at)
	if err != nil {
		t.Fatalf("ScheduleSession failed: %v", err)
	}
	if session.State != types.SessionScheduled {
		t.Errorf("got state %s, want scheduled", session.State)
	}
	if _, err := rooms.Get(session.ID); err != room.ErrRoomNotFound {
		t.Error("no room may exist for a scheduled session")
	}

	// A scheduled session does not occupy the lecturer's live slot.
	if _, err := m.StartSession(ctx, "lect-1", "course-2", "Other"); err != nil {
		t.Errorf("scheduling must not block starting: %v", err)
	}
}

func TestManager_ScheduleSession_RejectsPastAndPresent(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, at := range []time.Time{
		time.Now().Add(-time.Hour),
		time.Now(),
	} {
		if _, err := m.ScheduleSession(ctx, "lect-1", "course-1", "Signals", at); err != ErrInvalidScheduleTime {
			t.Errorf("expected ErrInvalidScheduleTime for %v, got %v", at, err)
		}
	}

	// Never partially creates a session.
	store.mu.RLock()
	defer store.mu.RUnlock()
	if len(store.sessions) != 0 {
		t.Error("rejected schedule must not create a session")
	}
}

func TestManager_GoLive(t *testing.T) {
	m, _, rooms, notifier := newTestManager(t)
	ctx := context.Background()

	scheduled, err := m.ScheduleSession(ctx, "lect-1", "course-1", "Signals", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ScheduleSession failed: %v", err)
	}

	session, err := m.GoLive(ctx, scheduled.ID)
	if err != nil {
		t.Fatalf("GoLive failed: %v", err)
	}
	if session.State != types.SessionLive || session.StartedAt == nil {
		t.Error("expected live session with started_at")
	}
	if _, err := rooms.Get(session.ID); err != nil {
		t.Error("room must exist once the session is live")
	}
	if len(notifier.global) != 1 {
		t.Error("expected global session-started broadcast on go-live")
	}

	// Going live twice is invalid.
	if _, err := m.GoLive(ctx, scheduled.ID); err != ErrInvalidState {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestManager_GoLive_RespectsLiveInvariant(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.StartSession(ctx, "lect-1", "course-1", "Live now"); err != nil {
		t.Fatal(err)
	}
	scheduled, err := m.ScheduleSession(ctx, "lect-1", "course-2", "Later", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.GoLive(ctx, scheduled.ID); err != ErrLecturerAlreadyLive {
		t.Errorf("expected ErrLecturerAlreadyLive, got %v", err)
	}
}

func TestManager_EndSession(t *testing.T) {
	m, _, rooms, notifier := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	got, err := m.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != types.SessionEnded || got.EndedAt == nil {
		t.Error("expected ended session with ended_at")
	}

	if _, err := rooms.Get(session.ID); err != room.ErrRoomNotFound {
		t.Error("room must be destroyed when the session ends")
	}

	frames := notifier.room[session.ID]
	if len(frames) != 1 || frames[0].Event != types.EventSessionEnded {
		t.Error("expected a room-scoped session-ended broadcast")
	}

	// The lecturer may start again.
	if _, err := m.StartSession(ctx, "lect-1", "course-1", "Round two"); err != nil {
		t.Errorf("lecturer should be free after ending: %v", err)
	}
}

func TestManager_EndSession_Idempotent(t *testing.T) {
	m, _, _, notifier := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("first EndSession failed: %v", err)
	}
	if err := m.EndSession(ctx, session.ID); err != nil {
		t.Errorf("second EndSession must be a no-op, got %v", err)
	}

	if len(notifier.room[session.ID]) != 1 {
		t.Error("session-ended must be broadcast exactly once")
	}
}

func TestManager_EndSession_NotFound(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	if err := m.EndSession(context.Background(), "ghost"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_CancelScheduledSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	scheduled, err := m.ScheduleSession(ctx, "lect-1", "course-1", "Signals", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := m.CancelScheduledSession(ctx, scheduled.ID); err != nil {
		t.Fatalf("CancelScheduledSession failed: %v", err)
	}

	got, err := m.GetSession(ctx, scheduled.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.SessionEnded {
		t.Errorf("got state %s, want ended", got.State)
	}
}

func TestManager_CancelScheduledSession_InvalidState(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	live, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.CancelScheduledSession(ctx, live.ID); err != ErrInvalidState {
		t.Errorf("expected ErrInvalidState for live session, got %v", err)
	}
	if err := m.CancelScheduledSession(ctx, "ghost"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_CancelScheduledSession_EndedSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EndSession(ctx, session.ID); err != nil {
		t.Fatal(err)
	}

	// Ended sessions leave the cache but are still known records: cancelling
	// one is a state error, not a missing session.
	if err := m.CancelScheduledSession(ctx, session.ID); err != ErrInvalidState {
		t.Errorf("expected ErrInvalidState for ended session, got %v", err)
	}
}

func TestManager_GetSessionReturnsCopy(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.State = types.SessionEnded
	got.Topic = "scribbled"

	if !m.IsSessionLive(session.ID) {
		t.Error("caller writes to a returned session must not reach the manager")
	}
	fresh, err := m.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.State != types.SessionLive || fresh.Topic != "Signals" {
		t.Errorf("manager state was mutated through a returned pointer: %+v", fresh)
	}

	list, err := m.ListOpenSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 open session, got %d", len(list))
	}
	list[0].ParticipantCount = 99
	again, _ := m.GetSession(ctx, session.ID)
	if again.ParticipantCount == 99 {
		t.Error("list results must be copies, not the cached records")
	}
}

func TestManager_ConcurrentReadsAndLifecycleWrites(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}

	// Readers JSON-encode the records they get back, the way the API layer
	// does, while lifecycle writes run. Catches shared-pointer races under
	// the race detector.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if s, err := m.GetSession(ctx, session.ID); err == nil {
					_, _ = json.Marshal(s)
				}
				if list, err := m.ListOpenSessions(ctx); err == nil {
					_, _ = json.Marshal(list)
				}
			}
		}()
	}

	for count := 1; count <= 50; count++ {
		m.SetParticipantCount(ctx, session.ID, count)
	}
	if err := m.EndSession(ctx, session.ID); err != nil {
		t.Errorf("EndSession failed under concurrent reads: %v", err)
	}
	close(done)
	wg.Wait()
}

func TestManager_LoadSessions_RebuildsEmptyRooms(t *testing.T) {
	store := newMockStore()
	rooms := room.NewRegistry()
	notifier := newMockNotifier()

	// Simulate a previous process's state in the store.
	now := time.Now().UTC()
	_ = store.CreateSession(context.Background(), &types.Session{
		ID: "s-live", CourseID: "c1", LecturerID: "lect-1", Topic: "Live",
		StartedAt: &now, State: types.SessionLive,
	})
	at := now.Add(time.Hour)
	_ = store.CreateSession(context.Background(), &types.Session{
		ID: "s-sched", CourseID: "c2", LecturerID: "lect-2", Topic: "Later",
		ScheduledAt: &at, State: types.SessionScheduled,
	})
	_ = store.CreateSession(context.Background(), &types.Session{
		ID: "s-done", CourseID: "c3", LecturerID: "lect-3", Topic: "Done",
		State: types.SessionEnded,
	})

	m := NewManager(store, rooms, notifier, nil)
	if err := m.LoadSessions(context.Background()); err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}

	if !m.IsSessionLive("s-live") {
		t.Error("live session must be restored")
	}
	if m.IsSessionLive("s-sched") || m.IsSessionLive("s-done") {
		t.Error("only live sessions are live")
	}

	rm, err := rooms.Get("s-live")
	if err != nil {
		t.Fatal("live session must get a rebuilt room")
	}
	if rm.MemberCount() != 0 {
		t.Error("rebuilt room must be empty")
	}
	if _, err := rooms.Get("s-sched"); err != room.ErrRoomNotFound {
		t.Error("scheduled session must not get a room")
	}

	// The restored live session still blocks its lecturer.
	if _, err := m.StartSession(context.Background(), "lect-1", "c9", "Again"); err != ErrLecturerAlreadyLive {
		t.Errorf("expected ErrLecturerAlreadyLive after restore, got %v", err)
	}
}

func TestManager_SetParticipantCount(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	ctx := context.Background()

	session, err := m.StartSession(ctx, "lect-1", "course-1", "Signals")
	if err != nil {
		t.Fatal(err)
	}

	m.SetParticipantCount(ctx, session.ID, 17)

	got, _ := store.GetSession(ctx, session.ID)
	if got.ParticipantCount != 17 {
		t.Errorf("got participant count %d, want 17", got.ParticipantCount)
	}
}
