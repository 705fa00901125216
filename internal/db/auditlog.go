package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

type CreateAuditLogEntryParams struct {
	ActorUserID pgtype.UUID
	ActorSAID   pgtype.UUID
	ProjectID   pgtype.UUID
	Action      string
	Resource    string
	ResourceID  pgtype.UUID
	Detail      []byte
	IPAddress   *string
	UserAgent   *string
}

func (q *Queries) CreateAuditLogEntry(ctx context.Context, arg CreateAuditLogEntryParams) (AuditLogEntry, error) {
	const query = `
INSERT INTO audit_log (actor_user_id, actor_sa_id, project_id, action, resource, resource_id, detail, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, actor_user_id, actor_sa_id, project_id, action, resource, resource_id, detail, ip_address, user_agent, created_at`

	var e AuditLogEntry
	err := q.db.QueryRow(ctx, query,
		arg.ActorUserID, arg.ActorSAID, arg.ProjectID, arg.Action, arg.Resource, arg.ResourceID, arg.Detail, arg.IPAddress, arg.UserAgent,
	).Scan(&e.ID, &e.ActorUserID, &e.ActorSAID, &e.ProjectID, &e.Action, &e.Resource, &e.ResourceID, &e.Detail, &e.IPAddress, &e.UserAgent, &e.CreatedAt)
	if err != nil {
		return AuditLogEntry{}, fmt.Errorf("creating audit log entry: %w", err)
	}
	return e, nil
}
