package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (q *Queries) CreateCustomDomain(ctx context.Context, projectID uuid.UUID, domain string, isPrimary bool) (CustomDomain, error) {
	const query = `
INSERT INTO custom_domains (project_id, domain, is_primary)
VALUES ($1, $2, $3)
RETURNING id, project_id, domain, is_primary, created_at`

	var d CustomDomain
	scanErr := q.db.QueryRow(ctx, query, projectID, domain, isPrimary).Scan(&d.ID, &d.ProjectID, &d.Domain, &d.IsPrimary, &d.CreatedAt)
	if scanErr != nil {
		return CustomDomain{}, fmt.Errorf("creating custom domain: %w", scanErr)
	}
	return d, nil
}

func (q *Queries) ListCustomDomains(ctx context.Context, projectID uuid.UUID) ([]CustomDomain, error) {
	const query = `
SELECT id, project_id, domain, is_primary, created_at
FROM custom_domains WHERE project_id = $1 ORDER BY is_primary DESC, domain`

	rows, err := q.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing custom domains: %w", err)
	}
	defer rows.Close()

	var out []CustomDomain
	for rows.Next() {
		var d CustomDomain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Domain, &d.IsPrimary, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning custom domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetPrimaryDomain clears any existing primary flag for the project and sets
// it on the given domain, preserving "at most one primary per project"
// (§3).
func (q *Queries) SetPrimaryDomain(ctx context.Context, projectID, domainID uuid.UUID) error {
	const clear = `UPDATE custom_domains SET is_primary = false WHERE project_id = $1`
	if _, err := q.db.Exec(ctx, clear, projectID); err != nil {
		return fmt.Errorf("clearing primary domain: %w", err)
	}

	const set = `UPDATE custom_domains SET is_primary = true WHERE id = $1 AND project_id = $2`
	if _, err := q.db.Exec(ctx, set, domainID, projectID); err != nil {
		return fmt.Errorf("setting primary domain: %w", err)
	}
	return nil
}

func (q *Queries) DeleteCustomDomain(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM custom_domains WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting custom domain: %w", err)
	}
	return nil
}
