package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"liveclass/internal/room"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// SessionManager is the lifecycle surface the API exposes over REST.
type SessionManager interface {
	StartSession(ctx context.Context, lecturerID, courseID, topic string) (*types.Session, error)
	ScheduleSession(ctx context.Context, lecturerID, courseID, topic string, at time.Time) (*types.Session, error)
	GoLive(ctx context.Context, sessionID string) (*types.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	CancelScheduledSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListOpenSessions(ctx context.Context) ([]*types.Session, error)
}

// StateReader serves the reconciliation poll: the authoritative room snapshot.
type StateReader interface {
	Snapshot(sessionID string) (*types.RoomSnapshot, error)
}

// ConnectionStats reports connection counts for the health endpoint.
type ConnectionStats interface {
	GetStats() map[string]int
}

// Server is the HTTP boundary: session lifecycle, chat history, the state
// reconciliation endpoint, and health. No business logic lives here.
type Server struct {
	sessions SessionManager
	store    interfaces.Store
	state    StateReader
	stats    ConnectionStats
	router   *http.ServeMux
}

// NewServer creates the API server and wires its routes.
func NewServer(sessions SessionManager, store interfaces.Store, state StateReader, stats ConnectionStats) *Server {
	s := &Server{
		sessions: sessions,
		store:    store,
		state:    state,
		stats:    stats,
		router:   http.NewServeMux(),
	}

	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionByID dispatches /api/sessions/{id} and its sub-resources:
// go-live, end, state, messages.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	sessionID := parts[0]
	if sessionID == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.getSession(w, r, sessionID)
	case sub == "" && r.Method == http.MethodDelete:
		s.cancelSession(w, r, sessionID)
	case sub == "go-live" && r.Method == http.MethodPut:
		s.goLive(w, r, sessionID)
	case sub == "end" && r.Method == http.MethodPut:
		s.endSession(w, r, sessionID)
	case sub == "state" && r.Method == http.MethodGet:
		s.getRoomState(w, r, sessionID)
	case sub == "messages" && r.Method == http.MethodGet:
		s.getChatHistory(w, r, sessionID)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type CreateSessionRequest struct {
	LecturerID  string     `json:"lecturer_id"`
	CourseID    string     `json:"course_id"`
	Topic       string     `json:"topic"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type ChatHistoryResponse struct {
	SessionID string               `json:"session_id"`
	Messages  []*types.ChatMessage `json:"messages"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createSession starts a session immediately, or schedules one when the
// request carries a scheduled_at time.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var (
		sess *types.Session
		err  error
	)
	if req.ScheduledAt != nil {
		sess, err = s.sessions.ScheduleSession(r.Context(), req.LecturerID, req.CourseID, req.Topic, *req.ScheduledAt)
	} else {
		sess, err = s.sessions.StartSession(r.Context(), req.LecturerID, req.CourseID, req.Topic)
	}
	if err != nil {
		s.sendSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, SessionResponse{Session: sess})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListOpenSessions(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	s.encode(w, ListSessionsResponse{Sessions: sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err)
		return
	}
	s.encode(w, SessionResponse{Session: sess})
}

func (s *Server) goLive(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.GoLive(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err)
		return
	}
	s.encode(w, SessionResponse{Session: sess})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.EndSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err)
		return
	}
	s.encode(w, map[string]string{"message": "Session ended"})
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.CancelScheduledSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err)
		return
	}
	s.encode(w, map[string]string{"message": "Session cancelled"})
}

// getRoomState is the reconciliation poll: the full authoritative snapshot of
// a live session's room. A 404 here tells the poller the session is over.
func (s *Server) getRoomState(w http.ResponseWriter, r *http.Request, sessionID string) {
	snapshot, err := s.state.Snapshot(sessionID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			s.sendError(w, "Session not found or ended", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to read room state", http.StatusInternalServerError)
		}
		return
	}
	s.encode(w, snapshot)
}

func (s *Server) getChatHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err)
		return
	}

	messages, err := s.store.GetChatHistory(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, "Failed to load chat history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	s.encode(w, ChatHistoryResponse{SessionID: sessionID, Messages: messages})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.encode(w, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.stats.GetStats(),
	})
}

// sendSessionError maps lifecycle errors to HTTP statuses. Invariant
// violations (double live, wrong state) are conflicts; bad input is 400.
func (s *Server) sendSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrLecturerAlreadyLive):
		s.sendError(w, "Lecturer already has a live session", http.StatusConflict)
	case errors.Is(err, session.ErrInvalidState):
		s.sendError(w, "Session is not in a valid state for this operation", http.StatusConflict)
	case errors.Is(err, session.ErrInvalidScheduleTime),
		errors.Is(err, session.ErrInvalidLecturerID),
		errors.Is(err, session.ErrInvalidCourseID),
		errors.Is(err, session.ErrInvalidTopic):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
