package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

// extensionAuditDetail names the extension in the audit entry's detail
// column; extensions have no UUID of their own (keyed by project + name).
func extensionAuditDetail(name string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"name": name})
	return b
}

type createExtensionRequest struct {
	Name          string          `json:"name" validate:"required,min=1,max=63"`
	ExtensionType string          `json:"extension_type" validate:"required,min=1,max=63"`
	Spec          json.RawMessage `json:"spec" validate:"required"`
}

type updateExtensionRequest struct {
	Spec json.RawMessage `json:"spec" validate:"required"`
}

type extensionResponse struct {
	Name          string          `json:"name"`
	ExtensionType string          `json:"extension_type"`
	Spec          json.RawMessage `json:"spec"`
	Status        json.RawMessage `json:"status"`
	Deleting      bool            `json:"deleting"`
	CreatedAt     string          `json:"created_at"`
}

func toExtensionResponse(e db.ProjectExtension) extensionResponse {
	return extensionResponse{
		Name:          e.Name,
		ExtensionType: e.ExtensionType,
		Spec:          json.RawMessage(e.Spec),
		Status:        json.RawMessage(e.Status),
		Deleting:      e.DeletedAt.Valid,
		CreatedAt:     e.CreatedAt.Format(httpTimeFormat),
	}
}

func (h *Handler) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	items, err := h.queries.ListExtensionsByProject(r.Context(), project.ID)
	if err != nil {
		h.logger.Error("listing extensions", "error", err, "project", project.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list extensions")
		return
	}

	out := make([]extensionResponse, len(items))
	for i, e := range items {
		out[i] = toExtensionResponse(e)
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleCreateExtension(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	var req createExtensionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	e, err := h.queries.CreateExtension(r.Context(), db.CreateExtensionParams{
		ProjectID:     project.ID,
		Name:          req.Name,
		ExtensionType: req.ExtensionType,
		Spec:          req.Spec,
	})
	if err != nil {
		h.logger.Error("creating extension", "error", err, "project", project.Name, "name", req.Name)
		httpserver.RespondError(w, http.StatusConflict, "conflict", "extension name already exists for this project")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "extension.create", "extension", uuid.Nil, extensionAuditDetail(req.Name))

	httpserver.Respond(w, http.StatusCreated, toExtensionResponse(e))
}

func (h *Handler) handleGetExtension(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	name := chi.URLParam(r, "name")

	e, err := h.queries.GetExtension(r.Context(), project.ID, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "extension not found")
			return
		}
		h.logger.Error("getting extension", "error", err, "name", name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get extension")
		return
	}

	httpserver.Respond(w, http.StatusOK, toExtensionResponse(e))
}

func (h *Handler) handleUpdateExtension(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	name := chi.URLParam(r, "name")

	var req updateExtensionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	e, err := h.queries.UpdateExtensionSpec(r.Context(), project.ID, name, req.Spec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "extension not found")
			return
		}
		h.logger.Error("updating extension", "error", err, "name", name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update extension")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "extension.update", "extension", uuid.Nil, extensionAuditDetail(name))

	httpserver.Respond(w, http.StatusOK, toExtensionResponse(e))
}

func (h *Handler) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := h.queries.SoftDeleteExtension(r.Context(), project.ID, name); err != nil {
		h.logger.Error("deleting extension", "error", err, "name", name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete extension")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "extension.delete", "extension", uuid.Nil, extensionAuditDetail(name))

	httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": "deleting"})
}
