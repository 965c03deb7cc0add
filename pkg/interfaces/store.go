package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// Store is the persistence collaborator: durable storage for session records
// and chat history. In-memory room state is deliberately not persisted; it is
// rebuilt empty on process restart.
type Store interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session record by ID.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession persists lifecycle transitions and participant counts.
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListSessionsByState returns all sessions in the given states.
	ListSessionsByState(ctx context.Context, states ...types.SessionState) ([]*types.Session, error)

	// StoreChatMessage appends a chat message to the durable history.
	StoreChatMessage(ctx context.Context, message *types.ChatMessage) error

	// GetChatHistory retrieves a session's chat messages ordered by ID.
	GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
