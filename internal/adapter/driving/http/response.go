package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mbrandt/ailab/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SecretNameResponse is one entry of the secret listing. Only the name and
// an existence flag are exposed; values never appear in any response.
type SecretNameResponse struct {
	Name     string `json:"name"`
	HasValue bool   `json:"has_value"`
}

// SecretListResponse is the body of the secret listing endpoint.
type SecretListResponse struct {
	Keys []SecretNameResponse `json:"keys"`
}

// SetSecretRequest is the JSON body for storing a secret.
type SetSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PersonaResponse is the JSON representation of a persona.
type PersonaResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	VoiceRef     string `json:"voice_ref,omitempty"`
	AvatarRef    string `json:"avatar_ref,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// PersonaRequest is the JSON body for creating a persona.
type PersonaRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	VoiceRef     string `json:"voice_ref"`
	AvatarRef    string `json:"avatar_ref"`
}

// PersonaPatchRequest is the JSON body for a partial persona update. Absent
// fields keep their stored values.
type PersonaPatchRequest struct {
	Name         *string `json:"name"`
	SystemPrompt *string `json:"system_prompt"`
	VoiceRef     *string `json:"voice_ref"`
	AvatarRef    *string `json:"avatar_ref"`
}

// SuggestPromptRequest is the JSON body for the persona prompt suggestion
// endpoint.
type SuggestPromptRequest struct {
	Genres []string `json:"genres"`
	Traits []string `json:"traits"`
}

// PreferencesResponse is the JSON representation of conversation preferences.
type PreferencesResponse struct {
	SystemPromptOverride string `json:"system_prompt_override,omitempty"`
	PersonaID            string `json:"persona_id,omitempty"`
	PersonaName          string `json:"persona_name,omitempty"`
	VoiceRef             string `json:"voice_ref,omitempty"`
	AvatarRef            string `json:"avatar_ref,omitempty"`
}

// PreferencesPatchRequest is the JSON body for a partial preferences update.
// Absent fields keep their stored values; explicit empty strings clear them.
type PreferencesPatchRequest struct {
	SystemPromptOverride *string `json:"system_prompt_override"`
	PersonaID            *string `json:"persona_id"`
	PersonaName          *string `json:"persona_name"`
	VoiceRef             *string `json:"voice_ref"`
	AvatarRef            *string `json:"avatar_ref"`
}

// MessageResponse is the JSON representation of one history entry.
type MessageResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ConversationResponse is the JSON representation of a conversation.
// Messages is present only on single-conversation reads.
type ConversationResponse struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"display_name"`
	Preferences PreferencesResponse `json:"preferences"`
	Messages    []MessageResponse   `json:"messages,omitempty"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

// CreateConversationRequest is the JSON body for creating a conversation.
type CreateConversationRequest struct {
	DisplayName string                  `json:"display_name"`
	Preferences PreferencesPatchRequest `json:"preferences"`
}

// RenameRequest is the JSON body for the conversation rename endpoint.
type RenameRequest struct {
	Name string `json:"name"`
}

// ImportMessagesRequest is the JSON body for the history import endpoint.
type ImportMessagesRequest struct {
	Messages []ImportedMessage `json:"messages"`
}

// ImportedMessage is one history entry in an import request.
type ImportedMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// StreamChatRequest is the JSON body for the streaming relay endpoint.
type StreamChatRequest struct {
	Message         string `json:"message"`
	PersonaOverride string `json:"persona_override"`
}

// ModelResponse is one entry of the upstream model catalog.
type ModelResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toPersonaResponse converts a domain Persona to its JSON representation.
func toPersonaResponse(p model.Persona) PersonaResponse {
	return PersonaResponse{
		ID:           p.ID,
		Name:         p.Name,
		SystemPrompt: p.SystemPrompt,
		VoiceRef:     p.VoiceRef,
		AvatarRef:    p.AvatarRef,
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// toConversationResponse converts a domain Conversation to its JSON
// representation, including messages when loaded.
func toConversationResponse(c model.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Preferences: PreferencesResponse{
			SystemPromptOverride: c.Preferences.SystemPromptOverride,
			PersonaID:            c.Preferences.PersonaID,
			PersonaName:          c.Preferences.PersonaName,
			VoiceRef:             c.Preferences.VoiceRef,
			AvatarRef:            c.Preferences.AvatarRef,
		},
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, m := range c.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return resp
}

// toMessageResponse converts a domain Message to its JSON representation.
func toMessageResponse(m model.Message) MessageResponse {
	return MessageResponse{
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
