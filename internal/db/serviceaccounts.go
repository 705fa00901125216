package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type CreateServiceAccountParams struct {
	ProjectID  uuid.UUID
	Identifier string
	IssuerURL  string
	Claims     map[string]string
}

// CreateServiceAccount enforces the creation invariant from §4.4/§8: every
// service account must carry an `aud` claim plus at least one more.
func (q *Queries) CreateServiceAccount(ctx context.Context, arg CreateServiceAccountParams) (ServiceAccount, error) {
	if _, ok := arg.Claims["aud"]; !ok {
		return ServiceAccount{}, fmt.Errorf("service account must include an aud claim")
	}
	if len(arg.Claims) < 2 {
		return ServiceAccount{}, fmt.Errorf("service account must include at least one claim besides aud")
	}

	claimsJSON, err := json.Marshal(arg.Claims)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("marshaling claims: %w", err)
	}

	const query = `
INSERT INTO service_accounts (project_id, identifier, issuer_url, claims)
VALUES ($1, $2, $3, $4)
RETURNING id, project_id, identifier, issuer_url, claims, deleted_at, created_at`

	var sa ServiceAccount
	var rawClaims []byte
	err = q.db.QueryRow(ctx, query, arg.ProjectID, arg.Identifier, arg.IssuerURL, claimsJSON).Scan(
		&sa.ID, &sa.ProjectID, &sa.Identifier, &sa.IssuerURL, &rawClaims, &sa.DeletedAt, &sa.CreatedAt,
	)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("creating service account: %w", err)
	}
	if err := json.Unmarshal(rawClaims, &sa.Claims); err != nil {
		return ServiceAccount{}, fmt.Errorf("unmarshaling claims: %w", err)
	}
	return sa, nil
}

// ListActiveServiceAccountsByIssuer enumerates every non-deleted service
// account whose issuer_url matches, the candidate set for workload-identity
// matching (§4.4 point 2).
func (q *Queries) ListActiveServiceAccountsByIssuer(ctx context.Context, issuerURL string) ([]ServiceAccount, error) {
	const query = `
SELECT id, project_id, identifier, issuer_url, claims, deleted_at, created_at
FROM service_accounts WHERE issuer_url = $1 AND deleted_at IS NULL`

	rows, err := q.db.Query(ctx, query, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("listing service accounts by issuer: %w", err)
	}
	defer rows.Close()

	var out []ServiceAccount
	for rows.Next() {
		var sa ServiceAccount
		var rawClaims []byte
		if err := rows.Scan(&sa.ID, &sa.ProjectID, &sa.Identifier, &sa.IssuerURL, &rawClaims, &sa.DeletedAt, &sa.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning service account: %w", err)
		}
		if err := json.Unmarshal(rawClaims, &sa.Claims); err != nil {
			return nil, fmt.Errorf("unmarshaling claims: %w", err)
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}

func (q *Queries) ListServiceAccountsByProject(ctx context.Context, projectID uuid.UUID) ([]ServiceAccount, error) {
	const query = `
SELECT id, project_id, identifier, issuer_url, claims, deleted_at, created_at
FROM service_accounts WHERE project_id = $1 AND deleted_at IS NULL ORDER BY created_at`

	rows, err := q.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing service accounts by project: %w", err)
	}
	defer rows.Close()

	var out []ServiceAccount
	for rows.Next() {
		var sa ServiceAccount
		var rawClaims []byte
		if err := rows.Scan(&sa.ID, &sa.ProjectID, &sa.Identifier, &sa.IssuerURL, &rawClaims, &sa.DeletedAt, &sa.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning service account: %w", err)
		}
		if err := json.Unmarshal(rawClaims, &sa.Claims); err != nil {
			return nil, fmt.Errorf("unmarshaling claims: %w", err)
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}

func (q *Queries) SoftDeleteServiceAccount(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE service_accounts SET deleted_at = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("soft-deleting service account: %w", err)
	}
	return nil
}
