package types

import (
	"regexp"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks if the role is one of the two allowed roles.
func IsValidRole(role string) bool {
	return role == RoleLecturer || role == RoleStudent
}

// IsValidTool checks if the tool is one of the allowed drawing tools.
func IsValidTool(tool string) bool {
	switch tool {
	case ToolDraw, ToolHighlight, ToolText, ToolEraser:
		return true
	default:
		return false
	}
}

// IsValidSignalKind checks if the kind is a relayable negotiation payload.
func IsValidSignalKind(kind string) bool {
	switch kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	default:
		return false
	}
}

// Validate ensures a participant carries a usable identity.
func (p *Participant) Validate() error {
	if !IsValidUserID(p.ID) {
		return ErrInvalidUserID
	}
	if len(p.DisplayName) < 1 || len(p.DisplayName) > 100 {
		return ErrInvalidDisplayName
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Validate ensures an annotation has a coherent shape for its kind.
// Draw and highlight annotations need a path; text annotations need a
// position and text.
func (a *Annotation) Validate() error {
	switch a.Kind {
	case AnnotationDraw, AnnotationHighlight:
		if len(a.Path) == 0 {
			return ErrInvalidAnnotation
		}
	case AnnotationText:
		if a.Position == nil || a.Text == "" {
			return ErrInvalidAnnotation
		}
	default:
		return ErrInvalidAnnotation
	}
	return nil
}

// Validate ensures a chat message body is present and within limits.
func (m *ChatMessage) Validate() error {
	if m.Body == "" {
		return ErrEmptyMessage
	}
	if len(m.Body) > 4096 {
		return ErrMessageTooLarge
	}
	return nil
}
