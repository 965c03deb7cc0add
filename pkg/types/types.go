package types

import (
	"time"
)

// Session lifecycle states. Transitions are monotonic: scheduled -> live -> ended,
// or scheduled -> ended when a scheduled session is cancelled.
type SessionState string

const (
	SessionScheduled SessionState = "scheduled"
	SessionLive      SessionState = "live"
	SessionEnded     SessionState = "ended"
)

// CanTransition reports whether a session may move from one state to another.
// No transition ever moves backward.
func (s SessionState) CanTransition(to SessionState) bool {
	switch s {
	case SessionScheduled:
		return to == SessionLive || to == SessionEnded
	case SessionLive:
		return to == SessionEnded
	default:
		return false
	}
}

// Participant roles.
const (
	RoleLecturer = "lecturer"
	RoleStudent  = "student"
)

// Drawing tools for the shared document surface.
const (
	ToolDraw      = "draw"
	ToolHighlight = "highlight"
	ToolText      = "text"
	ToolEraser    = "eraser"
)

// Annotation kinds.
const (
	AnnotationDraw      = "draw"
	AnnotationHighlight = "highlight"
	AnnotationText      = "text"
)

// Session is the durable record of a class meeting. It is owned exclusively
// by the session manager; all other components only read it.
type Session struct {
	ID               string       `json:"id" db:"id"`
	CourseID         string       `json:"course_id" db:"course_id"`
	LecturerID       string       `json:"lecturer_id" db:"lecturer_id"`
	LecturerName     string       `json:"lecturer_name" db:"lecturer_name"`
	Topic            string       `json:"topic" db:"topic"`
	ScheduledAt      *time.Time   `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt        *time.Time   `json:"started_at,omitempty" db:"started_at"`
	EndedAt          *time.Time   `json:"ended_at,omitempty" db:"ended_at"`
	State            SessionState `json:"state" db:"state"`
	ParticipantCount int          `json:"participant_count" db:"participant_count"`
}

// Participant identifies a room member.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Point is a single coordinate on the annotation surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScrollPosition is the shared scroll offset of the document view.
type ScrollPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DocumentRef points at a shareable document. The core only stores and relays
// the reference; it never fetches or renders the document itself.
type DocumentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Annotation is one mark on the shared document. Draw and highlight
// annotations carry a path; text annotations carry a position and text.
type Annotation struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	AuthorID string  `json:"author_id"`
	Color    string  `json:"color"`
	Page     int     `json:"page"`
	Path     []Point `json:"path,omitempty"`
	Position *Point  `json:"position,omitempty"`
	Text     string  `json:"text,omitempty"`
}

// ChatMessage is one entry in the room chat log. The log is monotonically
// growing; messages are also persisted for the history endpoint.
type ChatMessage struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	AuthorName string    `json:"author_name" db:"author_name"`
	Body       string    `json:"body" db:"body"`
	SentAt     time.Time `json:"sent_at" db:"sent_at"`
}

// Note is a short text note the lecturer pushes to the room, kept separate
// from chat so clients can render it as lecture material rather than
// conversation.
type Note struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	SharedAt   time.Time `json:"shared_at"`
}

// RoomSnapshot is the wire shape of the reconciliation fetch: the full
// authoritative room state at one point in time. In-progress strokes are
// transient per-author state and are deliberately excluded.
type RoomSnapshot struct {
	SessionID   string          `json:"session_id"`
	Seq         uint64          `json:"seq"`
	Members     []Participant   `json:"members"`
	Document    *DocumentRef    `json:"document"`
	Page        int             `json:"page"`
	Annotations []Annotation    `json:"annotations"`
	Tool        string          `json:"tool"`
	Scroll      ScrollPosition  `json:"scroll"`
	Chat        []ChatMessage   `json:"chat"`
	Notes       []Note          `json:"notes"`
	MicState    map[string]bool `json:"mic_state"`
}

// Signaling payload kinds relayed between exactly two participants.
const (
	SignalOffer     = "webrtc-offer"
	SignalAnswer    = "webrtc-answer"
	SignalCandidate = "webrtc-ice-candidate"
)

// Boundary event names pushed to clients.
const (
	EventSessionStarted = "session-started"
	EventSessionEnded   = "session-ended"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventNewMessage     = "new-message"
	EventDocumentShared = "document-shared"
	EventDocumentPage   = "document-page-update"
	EventDocumentAnnots = "document-annotations-update"
	EventDocumentTool   = "document-tool-update"
	EventDocumentStroke = "document-stroke-update"
	EventDocumentScroll = "document-scroll-update"
	EventMicState       = "mic-state-update"
	EventNoteShared     = "note-shared"
	EventRoomState      = "room-state"
)

// Envelope is the frame pushed over the websocket channel and accepted from
// clients on the read side.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}
