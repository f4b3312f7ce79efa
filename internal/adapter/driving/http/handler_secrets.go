package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// ListSecrets returns the names of stored secrets. Values are never exposed
// through the API.
func (h *Handler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	names, err := h.secrets.ListNames(r.Context())
	if err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error("failed to list secrets", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := SecretListResponse{Keys: make([]SecretNameResponse, 0, len(names))}
	for _, n := range names {
		resp.Keys = append(resp.Keys, SecretNameResponse{Name: n.Name, HasValue: n.HasValue})
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetSecret stores or overwrites a secret under the given name. The value is
// encrypted at rest and the response carries only the name.
func (h *Handler) SetSecret(w http.ResponseWriter, r *http.Request) {
	var req SetSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "secret name is required")
		return
	}

	if err := h.secrets.Set(r.Context(), req.Name, req.Value); err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error("failed to store secret", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, SecretNameResponse{Name: req.Name, HasValue: req.Value != ""})
}

// DeleteSecret removes a secret by name.
func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.secrets.Delete(r.Context(), name); err != nil {
		switch {
		case errors.Is(err, driven.ErrSecretNotFound):
			writeError(w, http.StatusNotFound, "secret not found")
		case errors.Is(err, driven.ErrEncryptionKeyNotSet):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error("failed to delete secret", "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
