package room

import "errors"

var (
	ErrRoomNotFound      = errors.New("no live room for session")
	ErrRoomExists        = errors.New("room already exists for session")
	ErrNotMember         = errors.New("participant is not a room member")
	ErrUnknownMutation   = errors.New("unknown mutation kind")
	ErrInvalidMutation   = errors.New("invalid mutation payload")
	ErrDocumentNotShared = errors.New("no document is currently shared")
)
