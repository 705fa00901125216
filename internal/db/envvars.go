package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type UpsertEnvVarParams struct {
	ProjectID     uuid.UUID
	DeploymentID  *uuid.UUID // nil => project-scoped
	Key           string
	Value         []byte
	IsSecret      bool
	IsProtected   bool
	IsRetrievable bool
	EncryptionMeta []byte
}

// UpsertEnvVar enforces the flag invariants from §3/§8 (is_protected ⇒
// is_secret; is_retrievable ⇒ is_secret) before writing.
func (q *Queries) UpsertEnvVar(ctx context.Context, arg UpsertEnvVarParams) (EnvVar, error) {
	if (arg.IsProtected || arg.IsRetrievable) && !arg.IsSecret {
		return EnvVar{}, fmt.Errorf("is_protected and is_retrievable require is_secret")
	}

	const query = `
INSERT INTO env_vars (project_id, deployment_id, key, value, is_secret, is_protected, is_retrievable, encryption_meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (project_id, deployment_id, key) DO UPDATE SET
	value = EXCLUDED.value,
	is_secret = EXCLUDED.is_secret,
	is_protected = EXCLUDED.is_protected,
	is_retrievable = EXCLUDED.is_retrievable,
	encryption_meta = EXCLUDED.encryption_meta,
	updated_at = now()
RETURNING id, project_id, deployment_id, key, value, is_secret, is_protected, is_retrievable, encryption_meta, created_at, updated_at`

	var e EnvVar
	err := q.db.QueryRow(ctx, query,
		arg.ProjectID, uuidPtrToPG(arg.DeploymentID), arg.Key, arg.Value,
		arg.IsSecret, arg.IsProtected, arg.IsRetrievable, arg.EncryptionMeta,
	).Scan(&e.ID, &e.ProjectID, &e.DeploymentID, &e.Key, &e.Value, &e.IsSecret, &e.IsProtected, &e.IsRetrievable, &e.EncryptionMeta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return EnvVar{}, fmt.Errorf("upserting env var: %w", err)
	}
	return e, nil
}

func (q *Queries) GetProjectEnvVar(ctx context.Context, projectID uuid.UUID, key string) (EnvVar, error) {
	const query = `
SELECT id, project_id, deployment_id, key, value, is_secret, is_protected, is_retrievable, encryption_meta, created_at, updated_at
FROM env_vars WHERE project_id = $1 AND deployment_id IS NULL AND key = $2`

	var e EnvVar
	err := q.db.QueryRow(ctx, query, projectID, key).Scan(&e.ID, &e.ProjectID, &e.DeploymentID, &e.Key, &e.Value, &e.IsSecret, &e.IsProtected, &e.IsRetrievable, &e.EncryptionMeta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return EnvVar{}, fmt.Errorf("getting project env var: %w", err)
	}
	return e, nil
}

// ListProjectEnvVars lists the project-scope (template) env vars — the ones
// merged into every new deployment at submission time.
func (q *Queries) ListProjectEnvVars(ctx context.Context, projectID uuid.UUID) ([]EnvVar, error) {
	return q.listEnvVars(ctx, `project_id = $1 AND deployment_id IS NULL`, projectID)
}

// ListDeploymentEnvVars lists the immutable, merged snapshot captured for one
// deployment (§4.5).
func (q *Queries) ListDeploymentEnvVars(ctx context.Context, deploymentID uuid.UUID) ([]EnvVar, error) {
	return q.listEnvVars(ctx, `deployment_id = $1`, deploymentID)
}

func (q *Queries) listEnvVars(ctx context.Context, where string, arg any) ([]EnvVar, error) {
	query := fmt.Sprintf(`
SELECT id, project_id, deployment_id, key, value, is_secret, is_protected, is_retrievable, encryption_meta, created_at, updated_at
FROM env_vars WHERE %s ORDER BY key`, where)

	rows, err := q.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing env vars: %w", err)
	}
	defer rows.Close()

	var out []EnvVar
	for rows.Next() {
		var e EnvVar
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.DeploymentID, &e.Key, &e.Value, &e.IsSecret, &e.IsProtected, &e.IsRetrievable, &e.EncryptionMeta, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning env var: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SnapshotEnvVarsForDeployment copies the current project-scope env vars,
// overridden by any per-submission overrides already inserted with this
// deployment_id, into a frozen per-deployment set. Called once, inside the
// submission transaction, so later project env changes never affect an
// already-running deployment (§4.5).
func (q *Queries) SnapshotEnvVarsForDeployment(ctx context.Context, tx pgx.Tx, projectID, deploymentID uuid.UUID) error {
	const query = `
INSERT INTO env_vars (project_id, deployment_id, key, value, is_secret, is_protected, is_retrievable, encryption_meta)
SELECT project_id, $2, key, value, is_secret, is_protected, is_retrievable, encryption_meta
FROM env_vars
WHERE project_id = $1 AND deployment_id IS NULL
  AND key NOT IN (SELECT key FROM env_vars WHERE deployment_id = $2)`

	if _, err := tx.Exec(ctx, query, projectID, deploymentID); err != nil {
		return fmt.Errorf("snapshotting env vars for deployment: %w", err)
	}
	return nil
}

func (q *Queries) DeleteEnvVar(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM env_vars WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting env var: %w", err)
	}
	return nil
}
