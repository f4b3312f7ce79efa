package model

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation's append-only history.
type Message struct {
	ID             int64
	ConversationID string
	Role           Role
	Content        string
	Timestamp      time.Time
}

// Preferences is the per-conversation overlay merged with the active persona
// when composing the effective system prompt. All fields are optional; empty
// string means unset.
type Preferences struct {
	SystemPromptOverride string
	PersonaID            string
	PersonaName          string
	VoiceRef             string
	AvatarRef            string
}

// PreferencesPatch is a partial update for conversation preferences. Nil
// fields leave the stored value untouched; a pointer to the empty string
// clears the field. This replaces the original free-form JSON merge with a
// typed structure validated at the boundary.
type PreferencesPatch struct {
	SystemPromptOverride *string
	PersonaID            *string
	PersonaName          *string
	VoiceRef             *string
	AvatarRef            *string
}

// Conversation is a named message history plus its preference overlay.
// Messages is populated only by reads that explicitly load history.
type Conversation struct {
	ID          string
	DisplayName string
	Preferences Preferences
	Messages    []Message
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
