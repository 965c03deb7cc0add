package relay

import "errors"

var (
	ErrSessionNotLive     = errors.New("session is not live")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrInvalidSignalKind  = errors.New("invalid signaling kind")
)
