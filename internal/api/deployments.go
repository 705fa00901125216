package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

type createDeploymentRequest struct {
	DeploymentGroup string            `json:"deployment_group" validate:"required,min=1,max=63"`
	HTTPPort        int32             `json:"http_port" validate:"required,min=1,max=65535"`
	Image           string            `json:"image,omitempty"`
	ExpiresInHours  int               `json:"expires_in_hours,omitempty" validate:"omitempty,min=1"`
	RolledBackFrom  string            `json:"rolled_back_from,omitempty" validate:"omitempty,uuid"`
	Env             map[string]string `json:"env,omitempty"`
}

type deploymentResponse struct {
	ID              string `json:"id"`
	DeploymentSlug  string `json:"deployment_slug"`
	DeploymentGroup string `json:"deployment_group"`
	Status          string `json:"status"`
	IsActive        bool   `json:"is_active"`
	HTTPPort        int32  `json:"http_port"`
	Image           string `json:"image,omitempty"`
	ImageDigest     string `json:"image_digest,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toDeploymentResponse(d db.Deployment) deploymentResponse {
	return deploymentResponse{
		ID:              d.ID.String(),
		DeploymentSlug:  d.DeploymentSlug,
		DeploymentGroup: d.DeploymentGroup,
		Status:          d.Status,
		IsActive:        d.IsActive,
		HTTPPort:        d.HTTPPort,
		Image:           d.Image.String,
		ImageDigest:     d.ImageDigest.String,
		CreatedAt:       d.CreatedAt.Format(httpTimeFormat),
	}
}

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	var req createDeploymentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	createdByID, err := h.deploymentCreatorID(r.Context(), id, project)
	if err != nil {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", err.Error())
		return
	}

	arg := db.CreateDeploymentParams{
		DeploymentSlug:  fmt.Sprintf("%s-%d", req.DeploymentGroup, time.Now().UnixNano()),
		ProjectID:       project.ID,
		CreatedByID:     createdByID,
		DeploymentGroup: req.DeploymentGroup,
		HTTPPort:        req.HTTPPort,
	}
	if req.Image != "" {
		arg.Image = &req.Image
	}
	if req.ExpiresInHours > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		arg.ExpiresAt = &t
	}
	if req.RolledBackFrom != "" {
		rb, err := parseUUIDString(req.RolledBackFrom)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rolled_back_from")
			return
		}
		arg.RolledBackFrom = &rb
	}

	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		h.logger.Error("beginning deployment submission transaction", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to submit deployment")
		return
	}
	defer tx.Rollback(r.Context())

	txq := h.queries.WithTx(tx)

	for k, v := range req.Env {
		if _, err := txq.UpsertEnvVar(r.Context(), db.UpsertEnvVarParams{
			ProjectID: project.ID,
			Key:       k,
			Value:     []byte(v),
		}); err != nil {
			h.logger.Error("applying submission env override", "error", err, "key", k)
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid env override")
			return
		}
	}

	d, err := txq.CreateDeployment(r.Context(), arg)
	if err != nil {
		h.logger.Error("creating deployment", "error", err, "project", project.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to submit deployment")
		return
	}

	if err := txq.SnapshotEnvVarsForDeployment(r.Context(), tx, project.ID, d.ID); err != nil {
		h.logger.Error("snapshotting env vars", "error", err, "deployment", d.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to submit deployment")
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		h.logger.Error("committing deployment submission", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to submit deployment")
		return
	}

	// Submission contract (§4.1): a new submission into an existing group
	// cancels any pre-infrastructure peer outright; peers that already
	// reached infrastructure are left for the engine's cutover to
	// supersede once the new deployment goes Healthy.
	if err := h.cancelPreInfraPeers(r.Context(), project.ID, req.DeploymentGroup, d.ID); err != nil {
		h.logger.Error("cancelling pre-infrastructure peers", "error", err, "deployment", d.ID)
	}

	h.audit.LogFromRequest(r, project.ID, "deployment.create", "deployment", d.ID, nil)

	httpserver.Respond(w, http.StatusCreated, toDeploymentResponse(d))
}

func (h *Handler) cancelPreInfraPeers(ctx context.Context, projectID uuid.UUID, group string, newID uuid.UUID) error {
	peers, err := h.queries.ListNonTerminalPeers(ctx, projectID, group, newID)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if !db.IsCancellable(peer.Status) {
			continue
		}
		if err := h.queries.TransitionStatus(ctx, peer.ID, db.StatusCancelling, nil); err != nil {
			return err
		}
	}
	return nil
}

// deploymentCreatorID resolves the db.users row attributed as the creator.
// Service accounts have no users row of their own, so a CI-driven
// submission is attributed to the project's owning user (§4.4: workload
// identities act "for their project", not as a distinct principal row).
func (h *Handler) deploymentCreatorID(ctx context.Context, id *auth.Identity, project db.Project) (uuid.UUID, error) {
	if id.UserID != nil {
		return *id.UserID, nil
	}
	if id.IsServiceAccount() {
		if project.OwnerUserID.Valid {
			return project.OwnerUserID.Bytes, nil
		}
		return uuid.UUID{}, errors.New("project has no owning user to attribute a workload-identity submission to")
	}
	return uuid.UUID{}, errors.New("no attributable principal for this deployment")
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.queries.ListDeploymentsByProject(r.Context(), db.ListDeploymentsParams{
		ProjectID: project.ID,
		Offset:    params.Offset,
		Limit:     params.PageSize,
	})
	if err != nil {
		h.logger.Error("listing deployments", "error", err, "project", project.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list deployments")
		return
	}

	out := make([]deploymentResponse, len(items))
	for i, d := range items {
		out[i] = toDeploymentResponse(d)
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, total))
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	d, err := h.queries.GetDeployment(r.Context(), id)
	if err != nil || d.ProjectID != project.ID {
		if errors.Is(err, pgx.ErrNoRows) || err == nil {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "deployment not found")
			return
		}
		h.logger.Error("getting deployment", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get deployment")
		return
	}

	httpserver.Respond(w, http.StatusOK, toDeploymentResponse(d))
}

func (h *Handler) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	d, err := h.queries.GetDeployment(r.Context(), id)
	if err != nil || d.ProjectID != project.ID {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "deployment not found")
		return
	}

	if db.IsProtected(d.Status) {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "already_stopping", "deployment is already terminal or mid-teardown")
		return
	}

	reason := db.ReasonUserStopped
	nextStatus := db.StatusTerminating
	if db.IsCancellable(d.Status) {
		nextStatus = db.StatusCancelling
	}

	if err := h.queries.TransitionStatus(r.Context(), d.ID, nextStatus, &reason); err != nil {
		h.logger.Error("stopping deployment", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop deployment")
		return
	}

	h.audit.LogFromRequest(r, project.ID, "deployment.stop", "deployment", d.ID, nil)

	httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": nextStatus})
}
