package interfaces

// Notifier delivers boundary events to connected clients. Delivery is
// at-most-once: a client that is not currently connected simply misses the
// push and converges through the reconciliation poll.
type Notifier interface {
	// BroadcastAll pushes an event to every connected client, regardless of
	// room membership. Used for the global session-started announcement.
	BroadcastAll(v interface{})

	// BroadcastRoom pushes an event to every client joined to the session's
	// room, except excludeUserID when non-empty.
	BroadcastRoom(sessionID string, v interface{}, excludeUserID string)

	// SendToUser pushes an event to a single connected user. Returns false
	// if the user has no current connection.
	SendToUser(userID string, v interface{}) bool
}
