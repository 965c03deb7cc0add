package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"liveclass/internal/broadcast"
	"liveclass/internal/relay"
	"liveclass/internal/room"
	"liveclass/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; deployments front this with their own origin
		// policy at the proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Liveness is the slice of the session manager the handler needs before
// upgrading: a cheap live check so dead sessions get an HTTP error instead of
// a doomed websocket.
type Liveness interface {
	IsSessionLive(sessionID string) bool
}

// Handler upgrades websocket requests and runs the per-connection read pump.
// Inbound frames are dispatched by event name: signaling kinds go to the
// relay, state mutation kinds to the broadcaster. Everything else is dropped.
type Handler struct {
	registry    *Registry
	liveness    Liveness
	relay       *relay.Relay
	broadcaster *broadcast.Broadcaster
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, liveness Liveness, rly *relay.Relay, broadcaster *broadcast.Broadcaster) *Handler {
	return &Handler{
		registry:    registry,
		liveness:    liveness,
		relay:       rly,
		broadcaster: broadcaster,
	}
}

// inboundFrame is the raw client frame before event dispatch.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// signalData is the client-side shape of a signaling frame; the sender is
// taken from the connection, never from the payload.
type signalData struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// HandleWebSocket validates the join request, upgrades the connection, joins
// the room, and hands the connection to the read pump. Validation happens
// before the upgrade so rejected clients get a proper HTTP status.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	name := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")
	sessionID := r.URL.Query().Get("session_id")

	if userID == "" || role == "" || sessionID == "" {
		http.Error(w, "Missing required query parameters: user_id, role, session_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'lecturer' or 'student'", http.StatusBadRequest)
		return
	}
	if name == "" {
		name = userID
	}

	if !h.liveness.IsSessionLive(sessionID) {
		http.Error(w, "Session not found or ended", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	wsConn.SetCredentials(userID, name, role, sessionID)

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	participant := types.Participant{
		ID:          userID,
		DisplayName: name,
		Role:        role,
	}

	// Register before joining so the join announcement that the relay fans
	// out can never race a frame to a connection the registry does not know.
	if err := h.relay.Join(r.Context(), sessionID, participant); err != nil {
		// The session ended between the liveness check and the join.
		_ = wsConn.WriteJSON(types.Envelope{
			Event: types.EventSessionEnded,
			Data:  map[string]interface{}{"session_id": sessionID},
		})
		h.registry.UnregisterConnection(wsConn)
		_ = wsConn.Close()
		return
	}

	go h.sendRoomState(wsConn)
	go h.handleConnection(wsConn, participant)
}

// sendRoomState pushes the current room snapshot to a freshly joined
// connection so it starts from the same state everyone else sees.
func (h *Handler) sendRoomState(conn *Connection) {
	snapshot, err := h.broadcaster.Snapshot(conn.GetSessionID())
	if err != nil {
		// Room gone already; the read pump will surface the close.
		return
	}

	if err := conn.WriteJSON(types.Envelope{
		Event: types.EventRoomState,
		Data:  snapshot,
	}); err != nil {
		log.Printf("Failed to send room state: user=%s err=%v", conn.GetUserID(), err)
	}
}

// handleConnection runs heartbeat monitoring and the read pump. Transport
// closure for any reason means the participant leaves the room.
func (h *Handler) handleConnection(conn *Connection, participant types.Participant) {
	sessionID := conn.GetSessionID()

	defer func() {
		h.relay.Leave(context.Background(), sessionID, participant.ID)
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: user=%s err=%v", participant.ID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Dropped malformed frame: user=%s err=%v", participant.ID, err)
			continue
		}

		h.dispatch(conn, participant, frame)
	}
}

// dispatch routes one inbound frame. Invalid or unauthorized frames are
// dropped with a log line; the connection stays up.
func (h *Handler) dispatch(conn *Connection, participant types.Participant, frame inboundFrame) {
	sessionID := conn.GetSessionID()

	switch frame.Event {
	case types.SignalOffer, types.SignalAnswer, types.SignalCandidate:
		var data signalData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Printf("Dropped malformed signal: user=%s err=%v", participant.ID, err)
			return
		}
		h.relay.Relay(relay.SignalEnvelope{
			SessionID: sessionID,
			From:      participant.ID,
			To:        data.To,
			Kind:      frame.Event,
			Payload:   data.Payload,
		})

	case room.MutationShareDocument, room.MutationSetPage, room.MutationAddAnnotation,
		room.MutationEraseAnnotation, room.MutationClearAnnotations, room.MutationSetTool,
		room.MutationUpdateStroke, room.MutationUpdateScroll, room.MutationSendChat,
		room.MutationShareNote, room.MutationSetMic:
		var mut room.Mutation
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &mut); err != nil {
				log.Printf("Dropped malformed mutation: user=%s event=%s err=%v", participant.ID, frame.Event, err)
				return
			}
		}
		mut.Kind = frame.Event
		if _, err := h.broadcaster.ApplyMutation(context.Background(), sessionID, participant, mut); err != nil {
			log.Printf("Mutation rejected: user=%s event=%s err=%v", participant.ID, frame.Event, err)
		}

	default:
		log.Printf("Dropped unknown event: user=%s event=%q", participant.ID, frame.Event)
	}
}
