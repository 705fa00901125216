package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=63,lowercase"`
	AccessClass string `json:"access_class" validate:"required,oneof=public authenticated-user project-member"`
	OwnerTeam   string `json:"owner_team,omitempty"`
}

type updateProjectRequest struct {
	AccessClass string `json:"access_class" validate:"required,oneof=public authenticated-user project-member"`
}

type projectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	AccessClass string `json:"access_class"`
	CreatedAt   string `json:"created_at"`
}

func toProjectResponse(p db.Project) projectResponse {
	return projectResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Status:      p.Status,
		AccessClass: p.AccessClass,
		CreatedAt:   p.CreatedAt.Format(httpTimeFormat),
	}
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	all, total, err := h.queries.ListProjects(r.Context(), db.ListProjectsParams{Offset: params.Offset, Limit: params.PageSize})
	if err != nil {
		h.logger.Error("listing projects", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list projects")
		return
	}

	id := auth.FromContext(r.Context())
	visible := all
	if id != nil && !id.IsPlatformUser {
		visible = make([]db.Project, 0, len(all))
		for _, p := range all {
			ok, err := h.az.CanManageProject(r.Context(), id, p)
			if err != nil {
				h.logger.Error("checking project visibility", "error", err, "project", p.Name)
				continue
			}
			if ok {
				visible = append(visible, p)
			}
		}
		total = len(visible)
	}

	out := make([]projectResponse, len(visible))
	for i, p := range visible {
		out[i] = toProjectResponse(p)
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, total))
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	arg := db.CreateProjectParams{Name: req.Name, AccessClass: req.AccessClass}

	if req.OwnerTeam != "" {
		team, err := h.queries.GetTeamByName(r.Context(), req.OwnerTeam)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "unknown owner_team")
			return
		}
		arg.OwnerTeamID = &team.ID
	} else if id.UserID != nil {
		arg.OwnerUserID = id.UserID
	}

	p, err := h.queries.CreateProject(r.Context(), arg)
	if err != nil {
		h.logger.Error("creating project", "error", err, "name", req.Name)
		httpserver.RespondError(w, http.StatusConflict, "conflict", "project name already exists")
		return
	}

	h.audit.LogFromRequest(r, p.ID, "project.create", "project", p.ID, nil)

	httpserver.Respond(w, http.StatusCreated, toProjectResponse(p))
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	httpserver.Respond(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	var req updateProjectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.queries.SetProjectAccessClass(r.Context(), project.ID, req.AccessClass); err != nil {
		h.logger.Error("updating project", "error", err, "project", project.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update project")
		return
	}

	updated, err := h.queries.GetProject(r.Context(), project.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to reload project")
		return
	}

	h.audit.LogFromRequest(r, updated.ID, "project.update", "project", updated.ID, nil)

	httpserver.Respond(w, http.StatusOK, toProjectResponse(updated))
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	// Deletion is a soft transition: §4.6 has the extension finalizer
	// loop complete the cascade and physically remove the row once every
	// extension has cleaned up, mirroring Kubernetes finalizers.
	if err := h.queries.SetProjectStatus(r.Context(), project.ID, db.ProjectDeleting); err != nil {
		h.logger.Error("deleting project", "error", err, "project", project.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete project")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "project.delete", "project", project.ID, nil)

	httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": db.ProjectDeleting})
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"
