package interfaces

// Connection represents a client push channel.
// Implementations must make WriteJSON safe for concurrent use; the websocket
// implementation serializes writes through a single writer goroutine.
type Connection interface {
	// WriteJSON sends a JSON frame to the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources.
	Close() error

	// GetUserID returns the connected user's ID.
	GetUserID() string

	// GetDisplayName returns the connected user's display name.
	GetDisplayName() string

	// GetRole returns the user's role ("lecturer" or "student").
	GetRole() string

	// GetSessionID returns the session this connection is joined to.
	GetSessionID() string
}
