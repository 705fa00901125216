package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Project status values.
const (
	ProjectStopped    = "Stopped"
	ProjectRunning    = "Running"
	ProjectFailed     = "Failed"
	ProjectDeploying  = "Deploying"
	ProjectDeleting   = "Deleting"
	ProjectTerminated = "Terminated"
)

// Access class values (§4.2 access-class -> ingress policy).
const (
	AccessPublic            = "public"
	AccessAuthenticatedUser = "authenticated-user"
	AccessProjectMember     = "project-member"
)

type CreateProjectParams struct {
	Name        string
	AccessClass string
	OwnerUserID *uuid.UUID
	OwnerTeamID *uuid.UUID
}

func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error) {
	const query = `
INSERT INTO projects (name, status, access_class, owner_user_id, owner_team_id, finalizers)
VALUES (lower($1), $2, $3, $4, $5, '{}')
RETURNING id, name, status, access_class, owner_user_id, owner_team_id, finalizers, pull_secret_refreshed_at, created_at, updated_at`

	var p Project
	err := q.db.QueryRow(ctx, query,
		arg.Name, ProjectStopped, arg.AccessClass,
		uuidPtrToPG(arg.OwnerUserID), uuidPtrToPG(arg.OwnerTeamID),
	).Scan(&p.ID, &p.Name, &p.Status, &p.AccessClass, &p.OwnerUserID, &p.OwnerTeamID, &p.Finalizers, &p.PullSecretRefreshedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

func (q *Queries) GetProjectByName(ctx context.Context, name string) (Project, error) {
	const query = `
SELECT id, name, status, access_class, owner_user_id, owner_team_id, finalizers, pull_secret_refreshed_at, created_at, updated_at
FROM projects WHERE name = lower($1)`

	var p Project
	err := q.db.QueryRow(ctx, query, name).Scan(&p.ID, &p.Name, &p.Status, &p.AccessClass, &p.OwnerUserID, &p.OwnerTeamID, &p.Finalizers, &p.PullSecretRefreshedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("getting project by name: %w", err)
	}
	return p, nil
}

func (q *Queries) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	const query = `
SELECT id, name, status, access_class, owner_user_id, owner_team_id, finalizers, pull_secret_refreshed_at, created_at, updated_at
FROM projects WHERE id = $1`

	var p Project
	err := q.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Status, &p.AccessClass, &p.OwnerUserID, &p.OwnerTeamID, &p.Finalizers, &p.PullSecretRefreshedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

type ListProjectsParams struct {
	Offset int
	Limit  int
}

func (q *Queries) ListProjects(ctx context.Context, arg ListProjectsParams) ([]Project, int, error) {
	const countQuery = `SELECT count(*) FROM projects`
	var total int
	if err := q.db.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting projects: %w", err)
	}

	const query = `
SELECT id, name, status, access_class, owner_user_id, owner_team_id, finalizers, pull_secret_refreshed_at, created_at, updated_at
FROM projects ORDER BY created_at DESC OFFSET $1 LIMIT $2`

	rows, err := q.db.Query(ctx, query, arg.Offset, arg.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.AccessClass, &p.OwnerUserID, &p.OwnerTeamID, &p.Finalizers, &p.PullSecretRefreshedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// ListProjectsNeedingPullSecretRefresh returns non-terminated projects whose
// pull-secret credentials are missing or older than refreshInterval (§4.2
// pull-secret refresh).
func (q *Queries) ListProjectsNeedingPullSecretRefresh(ctx context.Context, refreshInterval time.Duration) ([]Project, error) {
	const query = `
SELECT id, name, status, access_class, owner_user_id, owner_team_id, finalizers, pull_secret_refreshed_at, created_at, updated_at
FROM projects
WHERE status != $1
  AND (pull_secret_refreshed_at IS NULL OR pull_secret_refreshed_at <= now() - $2::interval)`

	rows, err := q.db.Query(ctx, query, ProjectTerminated, refreshInterval.String())
	if err != nil {
		return nil, fmt.Errorf("listing projects needing pull-secret refresh: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.AccessClass, &p.OwnerUserID, &p.OwnerTeamID, &p.Finalizers, &p.PullSecretRefreshedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPullSecretRefreshed stamps pull_secret_refreshed_at to now.
func (q *Queries) SetPullSecretRefreshed(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE projects SET pull_secret_refreshed_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("setting pull secret refreshed: %w", err)
	}
	return nil
}

// SetProjectStatus updates a project's status. Moving to Deleting also
// soft-deletes every extension owned by the project, as a second statement
// that shares a transaction with the first only when q was built on one
// (db.New(tx)) — this is invariant 3 (§3), relocated here per SPEC_FULL.md
// §3 since this data-access layer has no database triggers.
func (q *Queries) SetProjectStatus(ctx context.Context, id uuid.UUID, status string) error {
	const query = `UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("setting project status: %w", err)
	}

	if status == ProjectDeleting {
		const softDeleteExtensions = `
UPDATE project_extensions SET deleted_at = now(), updated_at = now()
WHERE project_id = $1 AND deleted_at IS NULL`
		if _, err := q.db.Exec(ctx, softDeleteExtensions, id); err != nil {
			return fmt.Errorf("soft-deleting project extensions: %w", err)
		}
	}

	return nil
}

// SetProjectAccessClass updates access_class and, per invariant 2 (§3),
// flags every Healthy/Unhealthy deployment of the project for reconcile.
func (q *Queries) SetProjectAccessClass(ctx context.Context, id uuid.UUID, accessClass string) error {
	const query = `UPDATE projects SET access_class = $2, updated_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, accessClass); err != nil {
		return fmt.Errorf("setting project access class: %w", err)
	}

	const flagReconcile = `
UPDATE deployments SET needs_reconcile = true, updated_at = now()
WHERE project_id = $1 AND status IN ('Healthy', 'Unhealthy')`
	if _, err := q.db.Exec(ctx, flagReconcile, id); err != nil {
		return fmt.Errorf("flagging deployments for reconcile: %w", err)
	}

	return nil
}

func (q *Queries) AddProjectFinalizer(ctx context.Context, id uuid.UUID, finalizer string) error {
	const query = `
UPDATE projects SET finalizers = array_append(finalizers, $2), updated_at = now()
WHERE id = $1 AND NOT ($2 = ANY(finalizers))`
	if _, err := q.db.Exec(ctx, query, id, finalizer); err != nil {
		return fmt.Errorf("adding project finalizer: %w", err)
	}
	return nil
}

func (q *Queries) RemoveProjectFinalizer(ctx context.Context, id uuid.UUID, finalizer string) error {
	const query = `
UPDATE projects SET finalizers = array_remove(finalizers, $2), updated_at = now()
WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, finalizer); err != nil {
		return fmt.Errorf("removing project finalizer: %w", err)
	}
	return nil
}

// DeleteProject removes the project row outright. Callers must ensure every
// finalizer has already been cleared (all extensions cleaned up).
func (q *Queries) DeleteProject(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM projects WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}

func uuidPtrToPG(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}
