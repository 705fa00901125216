package api

import (
	"net/http"

	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

type createServiceAccountRequest struct {
	Identifier string            `json:"identifier" validate:"required,min=1,max=255"`
	IssuerURL  string            `json:"issuer_url" validate:"required,url"`
	Claims     map[string]string `json:"claims" validate:"required"`
}

type serviceAccountResponse struct {
	ID         string            `json:"id"`
	Identifier string            `json:"identifier"`
	IssuerURL  string            `json:"issuer_url"`
	Claims     map[string]string `json:"claims"`
	CreatedAt  string            `json:"created_at"`
}

func toServiceAccountResponse(sa db.ServiceAccount) serviceAccountResponse {
	return serviceAccountResponse{
		ID:         sa.ID.String(),
		Identifier: sa.Identifier,
		IssuerURL:  sa.IssuerURL,
		Claims:     sa.Claims,
		CreatedAt:  sa.CreatedAt.Format(httpTimeFormat),
	}
}

func (h *Handler) handleListServiceAccounts(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	items, err := h.queries.ListServiceAccountsByProject(r.Context(), project.ID)
	if err != nil {
		h.logger.Error("listing workload identities", "error", err, "project", project.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list workload identities")
		return
	}

	out := make([]serviceAccountResponse, len(items))
	for i, sa := range items {
		out[i] = toServiceAccountResponse(sa)
	}
	httpserver.Respond(w, http.StatusOK, out)
}

// handleCreateServiceAccount is restricted to human platform users acting
// on a project they may manage; service accounts cannot create other
// service accounts (§4.4 permissions).
func (h *Handler) handleCreateServiceAccount(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	id := auth.FromContext(r.Context())
	if id.IsServiceAccount() {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "workload identities cannot manage other workload identities")
		return
	}

	var req createServiceAccountRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sa, err := h.queries.CreateServiceAccount(r.Context(), db.CreateServiceAccountParams{
		ProjectID:  project.ID,
		Identifier: req.Identifier,
		IssuerURL:  req.IssuerURL,
		Claims:     req.Claims,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	h.audit.LogFromRequest(r, project.ID, "service_account.create", "service_account", sa.ID, nil)

	httpserver.Respond(w, http.StatusCreated, toServiceAccountResponse(sa))
}

func (h *Handler) handleDeleteServiceAccount(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	callerID := auth.FromContext(r.Context())
	if callerID.IsServiceAccount() {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "workload identities cannot manage other workload identities")
		return
	}

	if err := h.queries.SoftDeleteServiceAccount(r.Context(), id); err != nil {
		h.logger.Error("deleting workload identity", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete workload identity")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "service_account.delete", "service_account", id, nil)

	httpserver.Respond(w, http.StatusNoContent, nil)
}
