package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"liveclass/pkg/types"
)

// Delta is the decoded push-channel frame for a single room state change.
type Delta struct {
	Seq       uint64          `json:"seq"`
	SessionID string          `json:"session_id"`
	Event     string          `json:"event"`
	AuthorID  string          `json:"author_id"`
	Data      json.RawMessage `json:"data"`
}

// Shadow is a client's local copy of the server-owned room state, fed by two
// independent paths: push deltas and the periodic snapshot poll. Both paths
// may race; the merge is commutative, so applying a stale delta after a newer
// snapshot is a recognized no-op rather than a corruption. Purely local
// transient state (the in-progress stroke, a mute toggle not yet
// round-tripped) lives beside the server-owned fields and survives snapshot
// replacement until the corresponding server field arrives.
type Shadow struct {
	mu     sync.Mutex
	selfID string

	seq         uint64
	members     []types.Participant
	document    *types.DocumentRef
	page        int
	annotations []types.Annotation
	tool        string
	scroll      types.ScrollPosition
	chat        []types.ChatMessage
	notes       []types.Note
	micState    map[string]bool
	ended       bool

	// Transient local state, never replaced by a snapshot.
	localStroke []types.Point
	pendingMute *bool

	// Other participants' in-progress strokes arrive only over push; the
	// snapshot excludes them, so a poll leaves them alone too.
	remoteStrokes map[string][]types.Point
}

// NewShadow creates an empty local state for one participant.
func NewShadow(selfID string) *Shadow {
	return &Shadow{
		selfID:        selfID,
		page:          1,
		tool:          types.ToolDraw,
		micState:      make(map[string]bool),
		remoteStrokes: make(map[string][]types.Point),
	}
}

// ApplySnapshot replaces every server-owned field with the fetched truth.
// Applying the same snapshot twice is a no-op. The pending local mute toggle
// is dropped once the server's mic table carries an entry for this
// participant; until then it stays, so the UI does not flicker back while the
// round trip is in flight.
func (s *Shadow) ApplySnapshot(snap *types.RoomSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq = snap.Seq
	s.members = append([]types.Participant(nil), snap.Members...)
	s.document = snap.Document
	s.page = snap.Page
	s.annotations = append([]types.Annotation(nil), snap.Annotations...)
	s.tool = snap.Tool
	s.scroll = snap.Scroll
	s.chat = append([]types.ChatMessage(nil), snap.Chat...)
	s.notes = append([]types.Note(nil), snap.Notes...)

	s.micState = make(map[string]bool, len(snap.MicState))
	for id, muted := range snap.MicState {
		s.micState[id] = muted
	}
	if _, arrived := snap.MicState[s.selfID]; arrived {
		s.pendingMute = nil
	}
}

// ApplyDelta folds one push frame into the shadow. Returns false when the
// delta is stale, i.e. its sequence number is at or below the state already
// reached through a snapshot or an earlier delta.
func (s *Shadow) ApplyDelta(delta Delta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delta.Seq != 0 && delta.Seq <= s.seq {
		return false, nil
	}

	switch delta.Event {
	case types.EventDocumentShared:
		var data struct {
			Document *types.DocumentRef `json:"document"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.document = data.Document
		if data.Document == nil {
			s.page = 1
		}

	case types.EventDocumentPage:
		var data struct {
			Page int `json:"page"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.page = data.Page

	case types.EventDocumentAnnots:
		var data struct {
			Op           string            `json:"op"`
			Annotation   *types.Annotation `json:"annotation"`
			AnnotationID string            `json:"annotation_id"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		switch data.Op {
		case "add":
			if data.Annotation != nil {
				s.annotations = append(s.annotations, *data.Annotation)
				if data.Annotation.AuthorID == s.selfID {
					s.localStroke = nil
				}
			}
		case "erase":
			kept := s.annotations[:0]
			for _, ann := range s.annotations {
				if ann.ID != data.AnnotationID {
					kept = append(kept, ann)
				}
			}
			s.annotations = kept
		case "clear":
			s.annotations = []types.Annotation{}
		}

	case types.EventDocumentTool:
		var data struct {
			Tool string `json:"tool"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.tool = data.Tool

	case types.EventDocumentStroke:
		var data struct {
			AuthorID string        `json:"author_id"`
			Points   []types.Point `json:"points"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		if len(data.Points) == 0 {
			delete(s.remoteStrokes, data.AuthorID)
		} else {
			s.remoteStrokes[data.AuthorID] = data.Points
		}

	case types.EventDocumentScroll:
		var data struct {
			Scroll types.ScrollPosition `json:"scroll"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.scroll = data.Scroll

	case types.EventNewMessage:
		var msg types.ChatMessage
		if err := json.Unmarshal(delta.Data, &msg); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.chat = append(s.chat, msg)

	case types.EventNoteShared:
		var note types.Note
		if err := json.Unmarshal(delta.Data, &note); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.notes = append(s.notes, note)

	case types.EventMicState:
		var data struct {
			ParticipantID string `json:"participant_id"`
			Muted         bool   `json:"muted"`
		}
		if err := json.Unmarshal(delta.Data, &data); err != nil {
			return false, fmt.Errorf("malformed %s delta: %w", delta.Event, err)
		}
		s.micState[data.ParticipantID] = data.Muted
		if data.ParticipantID == s.selfID {
			s.pendingMute = nil
		}

	default:
		return false, fmt.Errorf("unknown delta event %q", delta.Event)
	}

	s.seq = delta.Seq
	return true, nil
}

// MarkEnded flags the session as over. Set by the poller on a terminal fetch
// and by the push path on a session-ended frame.
func (s *Shadow) MarkEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *Shadow) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SetLocalStroke records the in-progress local stroke. Passing nil clears it,
// which the drawing layer does when the stroke is finalized into an
// annotation mutation.
func (s *Shadow) SetLocalStroke(points []types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localStroke = append([]types.Point(nil), points...)
	if len(points) == 0 {
		s.localStroke = nil
	}
}

func (s *Shadow) LocalStroke() []types.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Point(nil), s.localStroke...)
}

// SetPendingMute records a local mute toggle that has not round-tripped yet.
func (s *Shadow) SetPendingMute(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMute = &muted
}

// Muted reports the effective mute state for a participant. For this
// participant, a pending local toggle wins over the last server state.
func (s *Shadow) Muted(participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if participantID == s.selfID && s.pendingMute != nil {
		return *s.pendingMute
	}
	return s.micState[participantID]
}

func (s *Shadow) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Shadow) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Shadow) Tool() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

func (s *Shadow) Document() *types.DocumentRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

func (s *Shadow) Annotations() []types.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Annotation(nil), s.annotations...)
}

func (s *Shadow) Scroll() types.ScrollPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll
}

func (s *Shadow) Chat() []types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChatMessage(nil), s.chat...)
}

func (s *Shadow) Notes() []types.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Note(nil), s.notes...)
}

func (s *Shadow) Members() []types.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Participant(nil), s.members...)
}

func (s *Shadow) RemoteStroke(authorID string) []types.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Point(nil), s.remoteStrokes[authorID]...)
}

// ShouldInitiateOffer reports whether this participant initiates the
// negotiation toward a newly discovered peer: the lexicographically smaller
// ID offers, the other answers.
func (s *Shadow) ShouldInitiateOffer(peerID string) bool {
	return s.selfID < peerID
}
