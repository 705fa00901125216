package auth

import (
	"context"
	"net/http"

	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

// RequireAuth rejects requests that have no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePlatformUser rejects any caller that isn't a human platform user —
// workload-identity principals never reach control-plane endpoints that
// manage projects, teams, or other service accounts (§4.4 closing note).
func RequirePlatformUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil || !id.IsPlatformUser {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "control-plane access requires a platform user")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Authorizer resolves whether an identity may act on a project, backed by
// project ownership and team membership rather than a global role
// hierarchy — this platform has no roles beyond team owner/member plus the
// platform-admin bypass.
type Authorizer struct {
	queries *db.Queries
}

func NewAuthorizer(queries *db.Queries) *Authorizer {
	return &Authorizer{queries: queries}
}

// CanManageProject reports whether identity may create/modify deployments,
// env vars, and service accounts on project. Platform admins always pass;
// otherwise the caller must own the project directly or belong to its
// owning team.
func (a *Authorizer) CanManageProject(ctx context.Context, id *Identity, project db.Project) (bool, error) {
	if id.IsPlatformUser {
		return true, nil
	}

	if id.IsServiceAccount() {
		return id.ProjectID != nil && *id.ProjectID == project.ID, nil
	}

	if id.UserID == nil {
		return false, nil
	}
	if project.OwnerUserID.Valid && project.OwnerUserID.Bytes == *id.UserID {
		return true, nil
	}
	if project.OwnerTeamID.Valid {
		_, ok, err := a.queries.GetTeamMemberRole(ctx, project.OwnerTeamID.Bytes, *id.UserID)
		if err != nil {
			return false, err
		}
		return ok, nil
	}
	return false, nil
}

// CanAdministerProject reports whether identity may delete the project,
// transfer ownership, or manage custom domains — operations that require
// team-owner privilege rather than mere membership.
func (a *Authorizer) CanAdministerProject(ctx context.Context, id *Identity, project db.Project) (bool, error) {
	if id.IsPlatformUser {
		return true, nil
	}
	if id.UserID == nil {
		return false, nil
	}
	if project.OwnerUserID.Valid && project.OwnerUserID.Bytes == *id.UserID {
		return true, nil
	}
	if project.OwnerTeamID.Valid {
		role, ok, err := a.queries.GetTeamMemberRole(ctx, project.OwnerTeamID.Bytes, *id.UserID)
		if err != nil {
			return false, err
		}
		return ok && role == "owner", nil
	}
	return false, nil
}

type projectContextKey string

const projectKey projectContextKey = "project"

// ProjectFromContext returns the project resolved by RequireProjectAccess,
// sparing handlers a second lookup by name.
func ProjectFromContext(ctx context.Context) (db.Project, bool) {
	p, ok := ctx.Value(projectKey).(db.Project)
	return p, ok
}

// RequireProjectAccess is an HTTP middleware factory: it looks up the
// project named by the given path-param extractor and rejects the request
// unless the caller may manage it, per admin. On success the resolved
// project is attached to the context for downstream handlers.
func RequireProjectAccess(az *Authorizer, projectFromRequest func(*http.Request) (db.Project, error), admin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			project, err := projectFromRequest(r)
			if err != nil {
				httpserver.RespondError(w, http.StatusNotFound, "not_found", "project not found")
				return
			}

			var allowed bool
			if admin {
				allowed, err = az.CanAdministerProject(r.Context(), id, project)
			} else {
				allowed, err = az.CanManageProject(r.Context(), id, project)
			}
			if err != nil {
				httpserver.RespondError(w, http.StatusInternalServerError, "internal", "authorization check failed")
				return
			}
			if !allowed {
				httpserver.RespondError(w, http.StatusForbidden, "forbidden", "insufficient permissions on this project")
				return
			}

			ctx := context.WithValue(r.Context(), projectKey, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
