package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type CreateExtensionParams struct {
	ProjectID     uuid.UUID
	Name          string
	ExtensionType string
	Spec          []byte
}

func (q *Queries) CreateExtension(ctx context.Context, arg CreateExtensionParams) (ProjectExtension, error) {
	const query = `
INSERT INTO project_extensions (project_id, name, extension_type, spec, status)
VALUES ($1, $2, $3, $4, '{}')
RETURNING project_id, name, extension_type, spec, status, deleted_at, lease_until, created_at, updated_at`

	var e ProjectExtension
	err := q.db.QueryRow(ctx, query, arg.ProjectID, arg.Name, arg.ExtensionType, arg.Spec).Scan(
		&e.ProjectID, &e.Name, &e.ExtensionType, &e.Spec, &e.Status, &e.DeletedAt, &e.LeaseUntil, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return ProjectExtension{}, fmt.Errorf("creating extension: %w", err)
	}
	return e, nil
}

func (q *Queries) GetExtension(ctx context.Context, projectID uuid.UUID, name string) (ProjectExtension, error) {
	const query = `
SELECT project_id, name, extension_type, spec, status, deleted_at, lease_until, created_at, updated_at
FROM project_extensions WHERE project_id = $1 AND name = $2`

	var e ProjectExtension
	err := q.db.QueryRow(ctx, query, projectID, name).Scan(
		&e.ProjectID, &e.Name, &e.ExtensionType, &e.Spec, &e.Status, &e.DeletedAt, &e.LeaseUntil, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return ProjectExtension{}, fmt.Errorf("getting extension: %w", err)
	}
	return e, nil
}

func (q *Queries) ListExtensionsByProject(ctx context.Context, projectID uuid.UUID) ([]ProjectExtension, error) {
	const query = `
SELECT project_id, name, extension_type, spec, status, deleted_at, lease_until, created_at, updated_at
FROM project_extensions WHERE project_id = $1 ORDER BY name`

	rows, err := q.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing extensions: %w", err)
	}
	defer rows.Close()

	var out []ProjectExtension
	for rows.Next() {
		var e ProjectExtension
		if err := rows.Scan(&e.ProjectID, &e.Name, &e.ExtensionType, &e.Spec, &e.Status, &e.DeletedAt, &e.LeaseUntil, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning extension: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) SoftDeleteExtension(ctx context.Context, projectID uuid.UUID, name string) error {
	const query = `
UPDATE project_extensions SET deleted_at = now(), updated_at = now()
WHERE project_id = $1 AND name = $2 AND deleted_at IS NULL`
	if _, err := q.db.Exec(ctx, query, projectID, name); err != nil {
		return fmt.Errorf("soft-deleting extension: %w", err)
	}
	return nil
}

// ClaimPendingExtension grabs one extension due for reconciliation — either
// never leased or whose lease has expired — and renews its lease, mirroring
// the claim-lease pattern in internal/db/deployments.go's ClaimNext but
// keyed by (project_id, name) rather than a single UUID primary key.
func (q *Queries) ClaimPendingExtension(ctx context.Context, now time.Time, leaseFor time.Duration) (ProjectExtension, bool, error) {
	const query = `
UPDATE project_extensions
SET lease_until = $1 + $2::interval
WHERE (project_id, name) = (
	SELECT project_id, name FROM project_extensions
	WHERE lease_until IS NULL OR lease_until < $1
	ORDER BY updated_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING project_id, name, extension_type, spec, status, deleted_at, lease_until, created_at, updated_at`

	var e ProjectExtension
	err := q.db.QueryRow(ctx, query, now, leaseFor.String()).Scan(
		&e.ProjectID, &e.Name, &e.ExtensionType, &e.Spec, &e.Status, &e.DeletedAt, &e.LeaseUntil, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProjectExtension{}, false, nil
		}
		return ProjectExtension{}, false, fmt.Errorf("claiming pending extension: %w", err)
	}
	return e, true, nil
}

// SetExtensionLease pins lease_until to a specific instant, letting a
// Requeue(d) reconcile result ask to be revisited sooner (or later) than
// the framework's default lease duration.
func (q *Queries) SetExtensionLease(ctx context.Context, projectID uuid.UUID, name string, until time.Time) error {
	const query = `
UPDATE project_extensions SET lease_until = $3
WHERE project_id = $1 AND name = $2`
	if _, err := q.db.Exec(ctx, query, projectID, name, until); err != nil {
		return fmt.Errorf("setting extension lease: %w", err)
	}
	return nil
}

// UpdateExtensionSpec overwrites an extension's spec and clears its lease
// so the next framework tick picks it up immediately, the same way an
// access-class change marks a deployment for re-reconcile.
func (q *Queries) UpdateExtensionSpec(ctx context.Context, projectID uuid.UUID, name string, spec []byte) (ProjectExtension, error) {
	const query = `
UPDATE project_extensions SET spec = $3, lease_until = NULL, updated_at = now()
WHERE project_id = $1 AND name = $2
RETURNING project_id, name, extension_type, spec, status, deleted_at, lease_until, created_at, updated_at`

	var e ProjectExtension
	err := q.db.QueryRow(ctx, query, projectID, name, spec).Scan(
		&e.ProjectID, &e.Name, &e.ExtensionType, &e.Spec, &e.Status, &e.DeletedAt, &e.LeaseUntil, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return ProjectExtension{}, fmt.Errorf("updating extension spec: %w", err)
	}
	return e, nil
}

func (q *Queries) UpdateExtensionStatus(ctx context.Context, projectID uuid.UUID, name string, status []byte) error {
	const query = `
UPDATE project_extensions SET status = $3, updated_at = now()
WHERE project_id = $1 AND name = $2`
	if _, err := q.db.Exec(ctx, query, projectID, name, status); err != nil {
		return fmt.Errorf("updating extension status: %w", err)
	}
	return nil
}

// DeleteExtension fully removes the row once cleanup is done — the
// finalizer-equivalent completion (§4.6).
func (q *Queries) DeleteExtension(ctx context.Context, projectID uuid.UUID, name string) error {
	const query = `DELETE FROM project_extensions WHERE project_id = $1 AND name = $2`
	if _, err := q.db.Exec(ctx, query, projectID, name); err != nil {
		return fmt.Errorf("deleting extension: %w", err)
	}
	return nil
}

// CountActiveExtensions reports how many (non-deleted or still-cleaning-up)
// extensions a project has left — used to decide whether a Deleting
// project's finalizer can finally clear.
func (q *Queries) CountActiveExtensions(ctx context.Context, projectID uuid.UUID) (int, error) {
	const query = `SELECT count(*) FROM project_extensions WHERE project_id = $1`
	var n int
	if err := q.db.QueryRow(ctx, query, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active extensions: %w", err)
	}
	return n, nil
}
