package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Deployment status values (§4.1).
const (
	StatusPending     = "Pending"
	StatusBuilding    = "Building"
	StatusPushing     = "Pushing"
	StatusPushed      = "Pushed"
	StatusDeploying   = "Deploying"
	StatusHealthy     = "Healthy"
	StatusUnhealthy   = "Unhealthy"
	StatusCancelling  = "Cancelling"
	StatusCancelled   = "Cancelled"
	StatusTerminating = "Terminating"
	StatusStopped     = "Stopped"
	StatusSuperseded  = "Superseded"
	StatusExpired     = "Expired"
	StatusFailed      = "Failed"
)

// Termination reasons.
const (
	ReasonUserStopped = "UserStopped"
	ReasonSuperseded  = "Superseded"
	ReasonCancelled   = "Cancelled"
	ReasonFailed      = "Failed"
	ReasonExpired     = "Expired"
)

// TerminalStatuses categorizes statuses that are final (§3).
var TerminalStatuses = map[string]bool{
	StatusCancelled:  true,
	StatusStopped:    true,
	StatusSuperseded: true,
	StatusFailed:     true,
	StatusExpired:    true,
}

// CancellableStatuses are pre-infrastructure statuses that can move directly
// to Cancelling without a reconciler teardown.
var CancellableStatuses = map[string]bool{
	StatusPending:   true,
	StatusBuilding:  true,
	StatusPushing:   true,
	StatusPushed:    true,
	StatusDeploying: true,
}

// ProtectedStatuses are statuses the reconciler must not overwrite with a
// fresh apply — they are mid-teardown or already terminal.
var ProtectedStatuses = map[string]bool{
	StatusTerminating: true,
	StatusCancelling:  true,
}

// ActiveStatuses are the "running" categorization (§3).
var ActiveStatuses = map[string]bool{
	StatusHealthy:   true,
	StatusUnhealthy: true,
}

func IsTerminal(status string) bool    { return TerminalStatuses[status] }
func IsCancellable(status string) bool { return CancellableStatuses[status] }
func IsProtected(status string) bool   { return ProtectedStatuses[status] || IsTerminal(status) }
func IsActive(status string) bool      { return ActiveStatuses[status] }

type CreateDeploymentParams struct {
	DeploymentSlug string
	ProjectID      uuid.UUID
	CreatedByID    uuid.UUID
	DeploymentGroup string
	HTTPPort       int32
	Image          *string
	ExpiresAt      *time.Time
	RolledBackFrom *uuid.UUID
}

func (q *Queries) CreateDeployment(ctx context.Context, arg CreateDeploymentParams) (Deployment, error) {
	const query = `
INSERT INTO deployments (
	deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, controller_metadata, rolled_back_from_deployment_id,
	expires_at, needs_reconcile
)
VALUES ($1, $2, $3, $4, $5, false, $6, $7, '{}', $8, $9, false)
RETURNING id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at`

	var d Deployment
	err := q.db.QueryRow(ctx, query,
		arg.DeploymentSlug, arg.ProjectID, arg.CreatedByID, arg.DeploymentGroup, StatusPending,
		arg.HTTPPort, textPtr(arg.Image), uuidPtrToPG(arg.RolledBackFrom), tsPtr(arg.ExpiresAt),
	).Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
		&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
		&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
		&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Deployment{}, fmt.Errorf("creating deployment: %w", err)
	}
	return d, nil
}

func (q *Queries) GetDeployment(ctx context.Context, id uuid.UUID) (Deployment, error) {
	const query = `
SELECT id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at
FROM deployments WHERE id = $1`

	var d Deployment
	err := q.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
		&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
		&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
		&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Deployment{}, fmt.Errorf("getting deployment: %w", err)
	}
	return d, nil
}

type ListDeploymentsParams struct {
	ProjectID uuid.UUID
	Offset    int
	Limit     int
}

func (q *Queries) ListDeploymentsByProject(ctx context.Context, arg ListDeploymentsParams) ([]Deployment, int, error) {
	const countQuery = `SELECT count(*) FROM deployments WHERE project_id = $1`
	var total int
	if err := q.db.QueryRow(ctx, countQuery, arg.ProjectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting deployments: %w", err)
	}

	const query = `
SELECT id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at
FROM deployments WHERE project_id = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`

	rows, err := q.db.Query(ctx, query, arg.ProjectID, arg.Offset, arg.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
			&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
			&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
			&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// GetActivePeer returns the current active deployment in (project, group),
// if any.
func (q *Queries) GetActivePeer(ctx context.Context, projectID uuid.UUID, group string) (Deployment, error) {
	const query = `
SELECT id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at
FROM deployments WHERE project_id = $1 AND deployment_group = $2 AND is_active = true`

	var d Deployment
	err := q.db.QueryRow(ctx, query, projectID, group).Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
		&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
		&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
		&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Deployment{}, fmt.Errorf("getting active peer: %w", err)
	}
	return d, nil
}

// ListNonTerminalPeers returns every non-terminal deployment in (project,
// group) other than excludeID, used to find supersession/cancellation
// targets when a new submission arrives.
func (q *Queries) ListNonTerminalPeers(ctx context.Context, projectID uuid.UUID, group string, excludeID uuid.UUID) ([]Deployment, error) {
	const query = `
SELECT id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at
FROM deployments
WHERE project_id = $1 AND deployment_group = $2 AND id != $3
  AND status NOT IN ('Cancelled', 'Stopped', 'Superseded', 'Failed', 'Expired')`

	rows, err := q.db.Query(ctx, query, projectID, group, excludeID)
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal peers: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
			&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
			&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
			&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning peer: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimNext locks and returns one claimable deployment row — non-terminal,
// non-protected, and either due for its first dispatch or flagged
// needs_reconcile — using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// engine workers never contend on the same row (§4.1, §5). Must be called
// inside a transaction; the caller commits after applying its transition so
// the claim and the state change are atomic.
func (q *Queries) ClaimNext(ctx context.Context, tx pgx.Tx) (Deployment, bool, error) {
	const query = `
SELECT id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at
FROM deployments
WHERE status NOT IN ('Cancelled', 'Stopped', 'Superseded', 'Failed', 'Expired')
  AND (status NOT IN ('Healthy', 'Unhealthy') OR needs_reconcile = true)
ORDER BY updated_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`

	var d Deployment
	err := tx.QueryRow(ctx, query).Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
		&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
		&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
		&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Deployment{}, false, nil
		}
		return Deployment{}, false, fmt.Errorf("claiming next deployment: %w", err)
	}
	return d, true, nil
}

// TransitionStatus moves a deployment to a new status. Per invariant 1
// (§3), entering a terminal status forces is_active = false in the same
// statement.
func (q *Queries) TransitionStatus(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	setActiveFalse := ""
	if IsTerminal(status) {
		setActiveFalse = ", is_active = false"
	}

	query := fmt.Sprintf(`
UPDATE deployments
SET status = $2, termination_reason = $3, updated_at = now()%s
WHERE id = $1`, setActiveFalse)

	if _, err := q.db.Exec(ctx, query, id, status, textPtr(reason)); err != nil {
		return fmt.Errorf("transitioning deployment status: %w", err)
	}
	return nil
}

// ActivateAndSupersede atomically marks newID active and transitions every
// other active deployment in the same (project, group) to Terminating with
// termination_reason Superseded, within tx. This is the transactional
// traffic-cutover guarantee from §5: readers never observe two
// simultaneously active deployments in one group, and a superseded peer's
// row reaches the engine's Terminating dispatch so its ReplicaSet is torn
// down instead of leaked (§4.1, §8 Property 7).
func (q *Queries) ActivateAndSupersede(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, group string, newID uuid.UUID) error {
	const clearOthers = `
UPDATE deployments SET is_active = false, status = $4, termination_reason = $5, updated_at = now()
WHERE project_id = $1 AND deployment_group = $2 AND id != $3 AND is_active = true`
	if _, err := tx.Exec(ctx, clearOthers, projectID, group, newID, StatusTerminating, ReasonSuperseded); err != nil {
		return fmt.Errorf("superseding previous active peer: %w", err)
	}

	const setNew = `
UPDATE deployments SET is_active = true, status = $2, updated_at = now() WHERE id = $1`
	if _, err := tx.Exec(ctx, setNew, newID, StatusHealthy); err != nil {
		return fmt.Errorf("activating new deployment: %w", err)
	}

	return nil
}

// SetNeedsReconcile clears or sets the needs_reconcile flag.
func (q *Queries) SetNeedsReconcile(ctx context.Context, id uuid.UUID, needs bool) error {
	const query = `UPDATE deployments SET needs_reconcile = $2, updated_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, needs); err != nil {
		return fmt.Errorf("setting needs_reconcile: %w", err)
	}
	return nil
}

// SetDeployingStarted stamps deploying_started_at — the timeout clock is
// keyed off this field, never submission time (§5).
func (q *Queries) SetDeployingStarted(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE deployments SET deploying_started_at = now(), updated_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("setting deploying_started_at: %w", err)
	}
	return nil
}

func (q *Queries) SetImageDigest(ctx context.Context, id uuid.UUID, digest string) error {
	const query = `UPDATE deployments SET image_digest = $2, updated_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, digest); err != nil {
		return fmt.Errorf("setting image digest: %w", err)
	}
	return nil
}

// SetControllerError records a truncated last-error message in
// controller_metadata without clobbering other keys (§4.1 failure
// semantics).
func (q *Queries) SetControllerError(ctx context.Context, id uuid.UUID, message string) error {
	const maxLen = 2048
	if len(message) > maxLen {
		message = message[:maxLen]
	}

	const query = `
UPDATE deployments
SET controller_metadata = jsonb_set(coalesce(controller_metadata, '{}'::jsonb), '{last_error}', to_jsonb($2::text)),
    updated_at = now()
WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, message); err != nil {
		return fmt.Errorf("setting controller error: %w", err)
	}
	return nil
}

// ListExpiring returns active/deploying deployments whose expires_at has
// passed, for the expiration sweeper (§4.1 point 3).
func (q *Queries) ListExpiring(ctx context.Context, now time.Time) ([]Deployment, error) {
	const query = `
SELECT id, deployment_slug, project_id, created_by_id, deployment_group, status,
	is_active, http_port, image, image_digest, controller_metadata,
	rolled_back_from_deployment_id, expires_at, needs_reconcile,
	deploying_started_at, termination_reason, created_at, updated_at
FROM deployments
WHERE expires_at IS NOT NULL AND expires_at <= $1
  AND status IN ('Healthy', 'Unhealthy', 'Deploying')`

	rows, err := q.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("listing expiring deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.DeploymentSlug, &d.ProjectID, &d.CreatedByID, &d.DeploymentGroup, &d.Status,
			&d.IsActive, &d.HTTPPort, &d.Image, &d.ImageDigest, &d.ControllerMetadata,
			&d.RolledBackFromDeployment, &d.ExpiresAt, &d.NeedsReconcile,
			&d.DeployingStartedAt, &d.TerminationReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning expiring deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func textPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func tsPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
