package model

import "time"

// Persona is a named bundle of system prompt, voice, and display identity
// that can be applied to a conversation. Conversations reference personas by
// id (with the name kept as a historical fallback); deleting a persona never
// cascades to the conversations that referenced it.
type Persona struct {
	ID           string
	Name         string
	SystemPrompt string
	VoiceRef     string
	AvatarRef    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PersonaPatch is a partial update for a persona. Nil fields leave the
// stored value untouched.
type PersonaPatch struct {
	Name         *string
	SystemPrompt *string
	VoiceRef     *string
	AvatarRef    *string
}
