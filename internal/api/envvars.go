package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

type setEnvVarRequest struct {
	Value         string `json:"value" validate:"required"`
	IsSecret      bool   `json:"is_secret"`
	IsProtected   bool   `json:"is_protected"`
	IsRetrievable bool   `json:"is_retrievable"`
}

type envVarResponse struct {
	Key           string `json:"key"`
	Value         string `json:"value,omitempty"`
	IsSecret      bool   `json:"is_secret"`
	IsProtected   bool   `json:"is_protected"`
	IsRetrievable bool   `json:"is_retrievable"`
}

// handleGetEnvVar returns the env var's metadata. The value itself is
// withheld for protected secrets and for secrets that aren't marked
// retrievable (§4.5 flag semantics); plaintext or owner-revealed secrets are
// decrypted on the way out.
func (h *Handler) handleGetEnvVar(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	key := chi.URLParam(r, "key")

	e, err := h.queries.GetProjectEnvVar(r.Context(), project.ID, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "env var not found")
			return
		}
		h.logger.Error("getting env var", "error", err, "key", key)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get env var")
		return
	}

	resp := envVarResponse{Key: e.Key, IsSecret: e.IsSecret, IsProtected: e.IsProtected, IsRetrievable: e.IsRetrievable}

	switch {
	case !e.IsSecret:
		resp.Value = string(e.Value)
	case e.IsProtected:
		// never returned over the API, even to owners.
	case e.IsRetrievable:
		plaintext, err := h.secrets.DecryptValue(r.Context(), e.Value, e.EncryptionMeta)
		if err != nil {
			h.logger.Error("decrypting retrievable env var", "error", err, "key", key)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to reveal value")
			return
		}
		resp.Value = string(plaintext)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleSetEnvVar(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	key := chi.URLParam(r, "key")

	var req setEnvVarRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	value := []byte(req.Value)
	var meta []byte
	if req.IsSecret {
		ciphertext, encMeta, err := h.secrets.EncryptValue(r.Context(), value)
		if err != nil {
			h.logger.Error("encrypting env var", "error", err, "key", key)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to encrypt value")
			return
		}
		value, meta = ciphertext, encMeta
	}

	e, err := h.queries.UpsertEnvVar(r.Context(), db.UpsertEnvVarParams{
		ProjectID:      project.ID,
		Key:            key,
		Value:          value,
		IsSecret:       req.IsSecret,
		IsProtected:    req.IsProtected,
		IsRetrievable:  req.IsRetrievable,
		EncryptionMeta: meta,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	h.audit.LogFromRequest(r, project.ID, "env_var.set", "env_var", e.ID, nil)

	httpserver.Respond(w, http.StatusOK, envVarResponse{
		Key: e.Key, IsSecret: e.IsSecret, IsProtected: e.IsProtected, IsRetrievable: e.IsRetrievable,
	})
}

func (h *Handler) handleDeleteEnvVar(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	key := chi.URLParam(r, "key")

	e, err := h.queries.GetProjectEnvVar(r.Context(), project.ID, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "env var not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete env var")
		return
	}

	if err := h.queries.DeleteEnvVar(r.Context(), e.ID); err != nil {
		h.logger.Error("deleting env var", "error", err, "key", key)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete env var")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "env_var.delete", "env_var", e.ID, nil)

	httpserver.Respond(w, http.StatusNoContent, nil)
}
