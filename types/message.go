// Package types provides shared core types used across voicebridge.
// This package has ZERO dependencies on other voicebridge packages,
// making it safe to import from anywhere without circular dependency issues.
package types

import "time"

// Role represents the role of a message participant.
type Role string

const (
	// RoleSystem is for system prompts that set assistant behavior.
	RoleSystem Role = "system"
	// RoleUser is for end-user messages (typically resolved transcripts).
	RoleUser Role = "user"
	// RoleAssistant is for model-generated responses.
	RoleAssistant Role = "assistant"
)

// Message represents a single conversation message.
type Message struct {
	// Role is the participant role (system, user, assistant).
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Name is an optional participant name.
	Name string `json:"name,omitempty"`

	// Source optionally attributes where the content came from
	// (e.g. "transcript", "fallback_interim", "cache").
	Source string `json:"source,omitempty"`

	// Metadata holds optional provider-specific fields.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp records when the message was created.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// WithName returns a copy of the message with the given participant name.
func (m Message) WithName(name string) Message {
	m.Name = name
	return m
}

// WithSource returns a copy of the message with the given source attribution.
func (m Message) WithSource(source string) Message {
	m.Source = source
	return m
}

// WithMetadata returns a copy of the message with the given metadata entry set.
func (m Message) WithMetadata(key string, value any) Message {
	meta := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// IsSystem reports whether the message carries the system role.
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}
