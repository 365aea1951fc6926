// Package chat holds the message type shared by the parser, the rewrite
// engine, the assembler and the outbound builder.
package chat

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn as sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsBlank reports whether the message carries no visible text.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}

// ValidRole reports whether role is one of system, user or assistant.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// DropBlank returns the messages whose content is not empty or whitespace-only.
func DropBlank(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsBlank() {
			continue
		}
		out = append(out, m)
	}
	return out
}
