package session

import "strings"

// Scope selects how inbound messages are grouped into one AI conversation.
type Scope string

const (
	ScopeDirect Scope = "direct"
	ScopeGroup  Scope = "group"
)

// Key identifies one logical conversation. Group scope is shared by every
// member of the group; direct scope is per user.
type Key string

// KeyFor derives the conversation key. userID is ignored for group scope.
func KeyFor(scope Scope, userID, groupID string) Key {
	if scope == ScopeGroup {
		return Key("group:" + strings.TrimSpace(groupID))
	}
	return Key("user:" + strings.TrimSpace(userID))
}

// ScopeOf maps a OneBot message_type to a scope.
func ScopeOf(messageType string) (Scope, bool) {
	switch messageType {
	case "private":
		return ScopeDirect, true
	case "group":
		return ScopeGroup, true
	default:
		return "", false
	}
}

func (k Key) String() string { return string(k) }
