package types

import "errors"

var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrInvalidRole        = errors.New("invalid role: must be 'lecturer' or 'student'")
	ErrInvalidTopic       = errors.New("topic must be 1-200 characters")
	ErrInvalidTool        = errors.New("invalid drawing tool")
	ErrInvalidAnnotation  = errors.New("invalid annotation")
	ErrInvalidSignalKind  = errors.New("invalid signaling kind")
	ErrMessageTooLarge    = errors.New("chat message exceeds 4KB limit")
	ErrEmptyMessage       = errors.New("chat message cannot be empty")
)
