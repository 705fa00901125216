// Package api implements the HTTP handlers mounted under /api/v1
// (spec §6): projects, deployments, env vars, workload identities, and
// extensions. Handlers talk to internal/db directly — there is no
// per-tenant connection scoping in this single-platform design — and
// defer authorization to internal/auth's Authorizer.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/risedotdev/rise/internal/audit"
	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
	"github.com/risedotdev/rise/internal/secrets"
)

// Handler aggregates every domain handler mounted under /api/v1.
type Handler struct {
	pool          *pgxpool.Pool
	queries       *db.Queries
	az            *auth.Authorizer
	secrets       *secrets.Service
	audit         *audit.Writer
	ingressIssuer *auth.IngressIssuer
	logger        *slog.Logger
}

func NewHandler(pool *pgxpool.Pool, queries *db.Queries, az *auth.Authorizer, secretsSvc *secrets.Service, auditWriter *audit.Writer, ingressIssuer *auth.IngressIssuer, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, queries: queries, az: az, secrets: secretsSvc, audit: auditWriter, ingressIssuer: ingressIssuer, logger: logger}
}

// Mount wires every route onto r, the router returned as Server.APIRouter.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/users/me", h.handleMe)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.handleListProjects)
		r.With(auth.RequirePlatformUser).Post("/", h.handleCreateProject)

		r.Route("/{project}", func(r chi.Router) {
			manage := h.withProjectAccess(false)
			admin := h.withProjectAccess(true)

			r.With(manage).Get("/", h.handleGetProject)
			r.With(admin).Put("/", h.handleUpdateProject)
			r.With(admin).Delete("/", h.handleDeleteProject)

			r.With(manage).Post("/deployments", h.handleCreateDeployment)
			r.With(manage).Get("/deployments", h.handleListDeployments)
			r.With(manage).Get("/deployments/{id}", h.handleGetDeployment)
			r.With(manage).Post("/deployments/{id}/stop", h.handleStopDeployment)

			r.With(manage).Get("/env/{key}", h.handleGetEnvVar)
			r.With(manage).Put("/env/{key}", h.handleSetEnvVar)
			r.With(manage).Delete("/env/{key}", h.handleDeleteEnvVar)

			r.With(manage).Get("/workload-identities", h.handleListServiceAccounts)
			r.With(manage).Post("/workload-identities", h.handleCreateServiceAccount)
			r.With(manage).Delete("/workload-identities/{id}", h.handleDeleteServiceAccount)

			r.With(manage).Get("/extensions", h.handleListExtensions)
			r.With(manage).Post("/extensions", h.handleCreateExtension)
			r.With(manage).Get("/extensions/{name}", h.handleGetExtension)
			r.With(manage).Put("/extensions/{name}", h.handleUpdateExtension)
			r.With(manage).Delete("/extensions/{name}", h.handleDeleteExtension)
		})
	})
}

// projectFromPath resolves the {project} path param to a db.Project.
func (h *Handler) projectFromPath(r *http.Request) (db.Project, error) {
	name := chi.URLParam(r, "project")
	return h.queries.GetProjectByName(r.Context(), name)
}

// withProjectAccess mounts auth.RequireAuth followed by
// auth.RequireProjectAccess for the {project} path segment.
func (h *Handler) withProjectAccess(admin bool) func(http.Handler) http.Handler {
	requireAccess := auth.RequireProjectAccess(h.az, h.projectFromPath, admin)
	return func(next http.Handler) http.Handler {
		return auth.RequireAuth(requireAccess(next))
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	httpserver.Respond(w, http.StatusOK, meResponse{
		Subject:        id.Subject,
		Email:          id.Email,
		Teams:          id.Teams,
		IsPlatformUser: id.IsPlatformUser,
		IsServiceAccount: id.IsServiceAccount(),
	})
}

type meResponse struct {
	Subject          string   `json:"subject"`
	Email            string   `json:"email,omitempty"`
	Teams            []string `json:"teams,omitempty"`
	IsPlatformUser   bool     `json:"is_platform_user"`
	IsServiceAccount bool     `json:"is_service_account"`
}

// parseUUIDParam reads a chi URL param and parses it as a UUID, writing a
// 400 response and returning ok=false on failure.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid "+name)
		return uuid.UUID{}, false
	}
	return id, true
}

func parseUUIDString(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
