package session

import "errors"

// Session lifecycle error types
var (
	ErrLecturerAlreadyLive = errors.New("lecturer already has a live session")
	ErrInvalidScheduleTime = errors.New("scheduled time must be strictly in the future")
	ErrInvalidState        = errors.New("operation not valid in current session state")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidLecturerID   = errors.New("invalid lecturer ID")
	ErrInvalidCourseID     = errors.New("invalid course ID")
	ErrInvalidTopic        = errors.New("topic must be 1-200 characters")
)
