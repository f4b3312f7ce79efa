package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mbrandt/ailab/internal/application"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// StreamChat relays one user message to the upstream provider and streams the
// assistant reply back as server-sent events. On success the full turn is
// persisted before the done event is emitted.
func (h *Handler) StreamChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req StreamChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sink := &eventSink{w: w, flusher: flusher}

	err := h.relaySvc.StreamTurn(r.Context(), application.StreamRequest{
		ConversationID:  id,
		UserMessage:     req.Message,
		PersonaOverride: req.PersonaOverride,
	}, sink)

	if err != nil {
		h.logger.Warn("stream turn failed", "conversation", id, "error", err)
		if !sink.started {
			h.writeApplicationError(w, err, "stream turn failed")
			return
		}
		// Headers are gone; report the failure inside the stream instead.
		sink.writeEvent("error", streamErrorPayload(err))
		return
	}

	sink.writeEvent("done", map[string]string{"content": sink.full.String()})
}

// eventSink implements application.ChunkSink over an SSE response. SSE
// headers are written lazily on the first frame so that failures before any
// output can still be reported as a plain JSON error.
type eventSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	full    strings.Builder
}

// Send writes one chunk event and flushes it to the client immediately.
func (s *eventSink) Send(ctx context.Context, delta string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.full.WriteString(delta)
	s.writeEvent("chunk", map[string]string{"content": delta})
	return nil
}

// writeEvent serializes one SSE frame, emitting headers first if needed.
func (s *eventSink) writeEvent(event string, payload any) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

// streamErrorPayload classifies a relay error for the in-stream error frame.
func streamErrorPayload(err error) map[string]string {
	kind := "internal"
	switch {
	case errors.Is(err, driven.ErrConversationNotFound):
		kind = "not_found"
	case errors.Is(err, application.ErrCredentialMissing):
		kind = "credential_missing"
	case errors.Is(err, driven.ErrDecryptFailed):
		kind = "decryption_failed"
	case errors.Is(err, application.ErrUpstreamUnavailable):
		kind = "upstream_unavailable"
	case errors.Is(err, application.ErrStreamInterrupted):
		kind = "stream_interrupted"
	}
	return map[string]string{"kind": kind, "message": err.Error()}
}

// ComposedPrompt returns the system prompt the relay would send for this
// conversation, for inspection in the UI.
func (h *Handler) ComposedPrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	prompt, err := h.relaySvc.ComposedPrompt(r.Context(), id)
	if err != nil {
		h.writeApplicationError(w, err, "failed to compose prompt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"system_prompt": prompt})
}
