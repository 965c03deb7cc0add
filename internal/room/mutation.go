package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"liveclass/pkg/types"
)

// Mutation kinds accepted by the room state broadcaster. Unknown kinds are
// rejected rather than forwarded blindly.
const (
	MutationShareDocument    = "share-document"
	MutationSetPage          = "set-page"
	MutationAddAnnotation    = "add-annotation"
	MutationEraseAnnotation  = "erase-annotation"
	MutationClearAnnotations = "clear-annotations"
	MutationSetTool          = "set-tool"
	MutationUpdateStroke     = "update-stroke"
	MutationUpdateScroll     = "update-scroll"
	MutationSendChat         = "send-chat"
	MutationShareNote        = "share-note"
	MutationSetMic           = "set-mic"
)

// Mutation is a tagged union: Kind selects which payload fields are read.
// Every field not belonging to the kind is ignored.
type Mutation struct {
	Kind string `json:"kind"`

	Document     *types.DocumentRef   `json:"document,omitempty"`      // share-document (nil unshares)
	Page         int                  `json:"page,omitempty"`          // set-page
	Annotation   *types.Annotation    `json:"annotation,omitempty"`    // add-annotation
	AnnotationID string               `json:"annotation_id,omitempty"` // erase-annotation
	Tool         string               `json:"tool,omitempty"`          // set-tool
	Stroke       []types.Point        `json:"stroke,omitempty"`        // update-stroke
	Scroll       types.ScrollPosition `json:"scroll,omitempty"`        // update-scroll
	Text         string               `json:"text,omitempty"`          // send-chat
	Note         string               `json:"note,omitempty"`          // share-note
	Target       string               `json:"target,omitempty"`        // set-mic (defaults to author)
	Muted        bool                 `json:"muted,omitempty"`         // set-mic
}

// Validate checks the payload shape for the mutation's kind.
func (m *Mutation) Validate() error {
	switch m.Kind {
	case MutationShareDocument:
		return nil // nil document means unshare
	case MutationSetPage:
		if m.Page < 1 {
			return ErrInvalidMutation
		}
	case MutationAddAnnotation:
		if m.Annotation == nil {
			return ErrInvalidMutation
		}
		return m.Annotation.Validate()
	case MutationEraseAnnotation:
		if m.AnnotationID == "" {
			return ErrInvalidMutation
		}
	case MutationClearAnnotations:
		return nil
	case MutationSetTool:
		if !types.IsValidTool(m.Tool) {
			return types.ErrInvalidTool
		}
	case MutationUpdateStroke:
		return nil // empty stroke clears the author's in-progress path
	case MutationUpdateScroll:
		return nil
	case MutationSendChat:
		msg := types.ChatMessage{Body: m.Text}
		return msg.Validate()
	case MutationShareNote:
		if m.Note == "" || len(m.Note) > 4096 {
			return ErrInvalidMutation
		}
	case MutationSetMic:
		if m.Target != "" && !types.IsValidUserID(m.Target) {
			return types.ErrInvalidUserID
		}
	default:
		return ErrUnknownMutation
	}
	return nil
}

// Delta is the result of one applied mutation: the event pushed to every
// other joined member. Seq is the per-room sequencing point; deltas within
// one room are delivered in seq order.
type Delta struct {
	Seq       uint64      `json:"seq"`
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
	AuthorID  string      `json:"author_id"`
	Data      interface{} `json:"data"`

	// Chat carries the persisted message for send-chat deltas so the
	// broadcaster can hand it to the persistence collaborator.
	Chat *types.ChatMessage `json:"-"`
}

// Apply executes a validated mutation against the room state under the room
// lock and returns the resulting delta. Arrival order at this lock is the
// last-writer-wins order: the later-arriving write to a field simply
// replaces the earlier one.
func (r *Room) Apply(author types.Participant, mut Mutation) (*Delta, error) {
	if err := mut.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[author.ID]; !ok {
		return nil, ErrNotMember
	}

	r.seq++
	delta := &Delta{
		Seq:       r.seq,
		SessionID: r.sessionID,
		AuthorID:  author.ID,
	}

	switch mut.Kind {
	case MutationShareDocument:
		r.document = mut.Document
		if mut.Document == nil {
			// Page is meaningless without a document; reset to 1.
			r.page = 1
		}
		delta.Event = types.EventDocumentShared
		delta.Data = map[string]interface{}{"document": r.document}

	case MutationSetPage:
		r.page = mut.Page
		delta.Event = types.EventDocumentPage
		delta.Data = map[string]interface{}{"page": r.page}

	case MutationAddAnnotation:
		ann := *mut.Annotation
		if ann.ID == "" {
			ann.ID = uuid.New().String()
		}
		ann.AuthorID = author.ID
		r.annotations = append(r.annotations, ann)
		delete(r.strokes, author.ID) // finalized stroke is no longer in progress
		delta.Event = types.EventDocumentAnnots
		delta.Data = map[string]interface{}{"op": "add", "annotation": ann}

	case MutationEraseAnnotation:
		kept := r.annotations[:0]
		for _, ann := range r.annotations {
			if ann.ID != mut.AnnotationID {
				kept = append(kept, ann)
			}
		}
		r.annotations = kept
		delta.Event = types.EventDocumentAnnots
		delta.Data = map[string]interface{}{"op": "erase", "annotation_id": mut.AnnotationID}

	case MutationClearAnnotations:
		// Clear is an ordered event like any other mutation: the list becomes
		// empty as of this point, later appends still succeed.
		r.annotations = []types.Annotation{}
		delta.Event = types.EventDocumentAnnots
		delta.Data = map[string]interface{}{"op": "clear"}

	case MutationSetTool:
		r.tool = mut.Tool
		delta.Event = types.EventDocumentTool
		delta.Data = map[string]interface{}{"tool": r.tool}

	case MutationUpdateStroke:
		if len(mut.Stroke) == 0 {
			delete(r.strokes, author.ID)
		} else {
			r.strokes[author.ID] = mut.Stroke
		}
		delta.Event = types.EventDocumentStroke
		delta.Data = map[string]interface{}{"author_id": author.ID, "points": mut.Stroke}

	case MutationUpdateScroll:
		r.scroll = mut.Scroll
		delta.Event = types.EventDocumentScroll
		delta.Data = map[string]interface{}{"scroll": r.scroll}

	case MutationSendChat:
		msg := types.ChatMessage{
			ID:         ulid.Make().String(),
			SessionID:  r.sessionID,
			AuthorID:   author.ID,
			AuthorName: author.DisplayName,
			Body:       mut.Text,
			SentAt:     time.Now().UTC(),
		}
		r.chat = append(r.chat, msg)
		delta.Event = types.EventNewMessage
		delta.Data = msg
		delta.Chat = &msg

	case MutationShareNote:
		note := types.Note{
			ID:         ulid.Make().String(),
			AuthorName: author.DisplayName,
			Text:       mut.Note,
			SharedAt:   time.Now().UTC(),
		}
		r.notes = append(r.notes, note)
		delta.Event = types.EventNoteShared
		delta.Data = note

	case MutationSetMic:
		target := mut.Target
		if target == "" {
			target = author.ID
		}
		r.micState[target] = mut.Muted
		delta.Event = types.EventMicState
		delta.Data = map[string]interface{}{"participant_id": target, "muted": mut.Muted}
	}

	return delta, nil
}

// Stroke returns the in-progress stroke for an author, if any. Used by tests
// and by the stroke-forwarding path.
func (r *Room) Stroke(authorID string) ([]types.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	points, ok := r.strokes[authorID]
	return points, ok
}
