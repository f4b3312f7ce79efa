package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mbrandt/ailab/internal/application"
	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	secrets       driven.SecretStore
	personas      driven.PersonaStore
	conversations driven.ConversationStore
	provider      driven.ChatProvider
	relaySvc      *application.RelayService
	namingSvc     *application.NamingService
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	secrets driven.SecretStore,
	personas driven.PersonaStore,
	conversations driven.ConversationStore,
	provider driven.ChatProvider,
	relaySvc *application.RelayService,
	namingSvc *application.NamingService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		secrets:       secrets,
		personas:      personas,
		conversations: conversations,
		provider:      provider,
		relaySvc:      relaySvc,
		namingSvc:     namingSvc,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/secrets", h.ListSecrets)
	mux.HandleFunc("PUT /api/v1/secrets", h.SetSecret)
	mux.HandleFunc("DELETE /api/v1/secrets/{name}", h.DeleteSecret)

	mux.HandleFunc("GET /api/v1/personas", h.ListPersonas)
	mux.HandleFunc("POST /api/v1/personas", h.CreatePersona)
	mux.HandleFunc("POST /api/v1/personas/suggest-prompt", h.SuggestPersonaPrompt)
	mux.HandleFunc("GET /api/v1/personas/{id}", h.GetPersona)
	mux.HandleFunc("PUT /api/v1/personas/{id}", h.UpdatePersona)
	mux.HandleFunc("DELETE /api/v1/personas/{id}", h.DeletePersona)

	mux.HandleFunc("GET /api/v1/conversations", h.ListConversations)
	mux.HandleFunc("POST /api/v1/conversations", h.CreateConversation)
	mux.HandleFunc("GET /api/v1/conversations/suggest-name", h.RandomConversationName)
	mux.HandleFunc("GET /api/v1/conversations/{id}", h.GetConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", h.DeleteConversation)
	mux.HandleFunc("PUT /api/v1/conversations/{id}/name", h.RenameConversation)
	mux.HandleFunc("PATCH /api/v1/conversations/{id}/preferences", h.UpdatePreferences)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages/import", h.ImportMessages)
	mux.HandleFunc("GET /api/v1/conversations/{id}/prompt", h.ComposedPrompt)
	mux.HandleFunc("POST /api/v1/conversations/{id}/suggest-name", h.SuggestConversationName)
	mux.HandleFunc("POST /api/v1/conversations/{id}/stream", h.StreamChat)

	mux.HandleFunc("GET /api/v1/models", h.ListModels)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListPersonas returns all stored personas.
func (h *Handler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.personas.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list personas", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PersonaResponse, 0, len(personas))
	for _, p := range personas {
		resp = append(resp, toPersonaResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreatePersona stores a new persona.
func (h *Handler) CreatePersona(w http.ResponseWriter, r *http.Request) {
	var req PersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "persona name is required")
		return
	}

	persona, err := h.personas.Create(r.Context(), model.Persona{
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		VoiceRef:     req.VoiceRef,
		AvatarRef:    req.AvatarRef,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			writeError(w, http.StatusConflict, "persona name already exists")
			return
		}
		h.logger.Error("failed to create persona", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toPersonaResponse(persona))
}

// GetPersona returns a single persona by ID.
func (h *Handler) GetPersona(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	persona, err := h.personas.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get persona", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if persona == nil {
		writeError(w, http.StatusNotFound, "persona not found")
		return
	}

	writeJSON(w, http.StatusOK, toPersonaResponse(*persona))
}

// UpdatePersona applies a partial update to a persona. Absent fields keep
// their stored values.
func (h *Handler) UpdatePersona(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PersonaPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "persona name cannot be empty")
		return
	}

	patch := model.PersonaPatch{
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		VoiceRef:     req.VoiceRef,
		AvatarRef:    req.AvatarRef,
	}

	persona, err := h.personas.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, driven.ErrPersonaNotFound) {
			writeError(w, http.StatusNotFound, "persona not found")
			return
		}
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			writeError(w, http.StatusConflict, "persona name already exists")
			return
		}
		h.logger.Error("failed to update persona", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toPersonaResponse(*persona))
}

// DeletePersona removes a persona. Conversations referencing it keep their
// stored preference values and fall back to them at compose time.
func (h *Handler) DeletePersona(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.personas.Delete(r.Context(), id); err != nil {
		if errors.Is(err, driven.ErrPersonaNotFound) {
			writeError(w, http.StatusNotFound, "persona not found")
			return
		}
		h.logger.Error("failed to delete persona", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SuggestPersonaPrompt asks the upstream model to draft a system prompt from
// genre and trait hints.
func (h *Handler) SuggestPersonaPrompt(w http.ResponseWriter, r *http.Request) {
	var req SuggestPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, err := h.namingSvc.SuggestSystemPrompt(r.Context(), req.Genres, req.Traits)
	if err != nil {
		h.writeApplicationError(w, err, "failed to suggest system prompt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"system_prompt": prompt})
}

// ListConversations returns all conversations ordered by most recent
// activity. Message bodies are not included in the listing.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, toConversationResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateConversation stores a new conversation. A missing display name gets a
// generated one.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = h.namingSvc.RandomConversationName(time.Now().UnixNano())
	}

	conv, err := h.conversations.Create(r.Context(), model.Conversation{
		DisplayName: name,
		Preferences: toPreferences(req.Preferences),
	})
	if err != nil {
		h.logger.Error("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// GetConversation returns a single conversation with its full message history.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := h.conversations.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get conversation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(*conv))
}

// DeleteConversation removes a conversation and its messages.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.conversations.Delete(r.Context(), id); err != nil {
		if errors.Is(err, driven.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to delete conversation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RenameConversation sets the display name without touching preferences or
// history.
func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "conversation name is required")
		return
	}

	if err := h.conversations.Rename(r.Context(), id, req.Name); err != nil {
		if errors.Is(err, driven.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to rename conversation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdatePreferences merges a partial preferences update into the stored
// preferences. Absent fields are kept; explicit empty strings clear them.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PreferencesPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.conversations.MergePreferences(r.Context(), id, model.PreferencesPatch{
		SystemPromptOverride: req.SystemPromptOverride,
		PersonaID:            req.PersonaID,
		PersonaName:          req.PersonaName,
		VoiceRef:             req.VoiceRef,
		AvatarRef:            req.AvatarRef,
	})
	if err != nil {
		if errors.Is(err, driven.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to update preferences", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, PreferencesResponse{
		SystemPromptOverride: conv.Preferences.SystemPromptOverride,
		PersonaID:            conv.Preferences.PersonaID,
		PersonaName:          conv.Preferences.PersonaName,
		VoiceRef:             conv.Preferences.VoiceRef,
		AvatarRef:            conv.Preferences.AvatarRef,
	})
}

// ListMessages returns the ordered message history of a conversation.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := h.conversations.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get conversation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	resp := make([]MessageResponse, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		resp = append(resp, toMessageResponse(m))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ImportMessages appends a batch of history entries to a conversation in one
// transaction.
func (h *Handler) ImportMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ImportMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	messages := make([]model.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		role := model.Role(m.Role)
		if role != model.RoleUser && role != model.RoleAssistant && role != model.RoleSystem {
			writeError(w, http.StatusBadRequest, "invalid role at index "+strconv.Itoa(i))
			return
		}
		ts, err := parseMessageTime(m.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timestamp at index "+strconv.Itoa(i))
			return
		}
		messages = append(messages, model.Message{
			ConversationID: id,
			Role:           role,
			Content:        m.Content,
			Timestamp:      ts,
		})
	}

	imported, err := h.conversations.ImportMessages(r.Context(), id, messages)
	if err != nil {
		if errors.Is(err, driven.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to import messages", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

// RandomConversationName returns a locally generated display name. An
// optional seed query parameter makes the result reproducible.
func (h *Handler) RandomConversationName(w http.ResponseWriter, r *http.Request) {
	seed := time.Now().UnixNano()
	if s := r.URL.Query().Get("seed"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid seed")
			return
		}
		seed = parsed
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"name": h.namingSvc.RandomConversationName(seed),
	})
}

// SuggestConversationName asks the upstream model for a short title based on
// the conversation history.
func (h *Handler) SuggestConversationName(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	name, err := h.namingSvc.SuggestConversationName(r.Context(), id)
	if err != nil {
		h.writeApplicationError(w, err, "failed to suggest conversation name")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

// ListModels returns the upstream provider's model catalog.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.provider.ListModels(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", "error", err)
		writeError(w, http.StatusBadGateway, "upstream provider unavailable")
		return
	}

	resp := make([]ModelResponse, 0, len(models))
	for _, m := range models {
		resp = append(resp, ModelResponse{ID: m.ID, Name: m.Name})
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeApplicationError maps application-layer sentinel errors to HTTP status
// codes. Unknown errors are logged and reported as 500.
func (h *Handler) writeApplicationError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, driven.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, driven.ErrPersonaNotFound):
		writeError(w, http.StatusNotFound, "persona not found")
	case errors.Is(err, application.ErrCredentialMissing):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, driven.ErrDecryptFailed):
		writeError(w, http.StatusInternalServerError, "stored credential could not be decrypted")
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, application.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "upstream provider unavailable")
	default:
		h.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// toPreferences converts a patch request into concrete preferences for a
// fresh conversation, treating absent fields as empty.
func toPreferences(req PreferencesPatchRequest) model.Preferences {
	var prefs model.Preferences
	if req.SystemPromptOverride != nil {
		prefs.SystemPromptOverride = *req.SystemPromptOverride
	}
	if req.PersonaID != nil {
		prefs.PersonaID = *req.PersonaID
	}
	if req.PersonaName != nil {
		prefs.PersonaName = *req.PersonaName
	}
	if req.VoiceRef != nil {
		prefs.VoiceRef = *req.VoiceRef
	}
	if req.AvatarRef != nil {
		prefs.AvatarRef = *req.AvatarRef
	}
	return prefs
}

// parseMessageTime accepts RFC 3339 timestamps with or without sub-second
// precision.
func parseMessageTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
