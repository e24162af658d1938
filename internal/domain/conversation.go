// Package domain contains core domain types for the advisor chat service.
package domain

import "strings"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content"`
}

// IsUser returns true if the turn was written by the visitor.
func (t Turn) IsUser() bool {
	return t.Role == RoleUser
}

// IsAssistant returns true if the turn was produced by the model.
func (t Turn) IsAssistant() bool {
	return t.Role == RoleAssistant
}

// Text returns the trimmed content.
func (t Turn) Text() string {
	return strings.TrimSpace(t.Content)
}

// LastUserTurn returns the most recent user turn, if any.
func LastUserTurn(turns []Turn) (Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].IsUser() {
			return turns[i], true
		}
	}
	return Turn{}, false
}
