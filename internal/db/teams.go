package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (q *Queries) CreateTeam(ctx context.Context, name string, idpManaged bool) (Team, error) {
	const query = `
INSERT INTO teams (name, idp_managed)
VALUES (lower($1), $2)
RETURNING id, name, idp_managed, created_at`

	var t Team
	err := q.db.QueryRow(ctx, query, name, idpManaged).Scan(&t.ID, &t.Name, &t.IdpManaged, &t.CreatedAt)
	if err != nil {
		return Team{}, fmt.Errorf("creating team: %w", err)
	}
	return t, nil
}

func (q *Queries) GetTeamByName(ctx context.Context, name string) (Team, error) {
	const query = `SELECT id, name, idp_managed, created_at FROM teams WHERE name = lower($1)`

	var t Team
	err := q.db.QueryRow(ctx, query, name).Scan(&t.ID, &t.Name, &t.IdpManaged, &t.CreatedAt)
	if err != nil {
		return Team{}, fmt.Errorf("getting team by name: %w", err)
	}
	return t, nil
}

// SetTeamMember upserts a (team, user, role) membership row. A user may hold
// more than one role on the same team, so the natural key includes role.
func (q *Queries) SetTeamMember(ctx context.Context, teamID, userID uuid.UUID, role string) error {
	const query = `
INSERT INTO team_members (team_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (team_id, user_id, role) DO NOTHING`

	if _, err := q.db.Exec(ctx, query, teamID, userID, role); err != nil {
		return fmt.Errorf("setting team member: %w", err)
	}
	return nil
}

// SyncIdpManagedMembership replaces the member list of an idp_managed team
// with the given set of user IDs, each granted the "member" role. The OIDC
// callback does not call it; it adds memberships through SetTeamMember.
func (q *Queries) SyncIdpManagedMembership(ctx context.Context, teamID uuid.UUID, userIDs []uuid.UUID) error {
	const del = `DELETE FROM team_members WHERE team_id = $1 AND role = 'member'`
	if _, err := q.db.Exec(ctx, del, teamID); err != nil {
		return fmt.Errorf("clearing idp-managed membership: %w", err)
	}
	for _, uid := range userIDs {
		if err := q.SetTeamMember(ctx, teamID, uid, "member"); err != nil {
			return err
		}
	}
	return nil
}

// GetTeamMemberRole returns the highest-privilege role a user holds on a
// team ("owner" > "member"), or ok=false if the user is not a member.
func (q *Queries) GetTeamMemberRole(ctx context.Context, teamID, userID uuid.UUID) (role string, ok bool, err error) {
	const query = `
SELECT role FROM team_members
WHERE team_id = $1 AND user_id = $2
ORDER BY CASE role WHEN 'owner' THEN 0 ELSE 1 END
LIMIT 1`

	if scanErr := q.db.QueryRow(ctx, query, teamID, userID).Scan(&role); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getting team member role: %w", scanErr)
	}
	return role, true, nil
}

func (q *Queries) ListUserTeamNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const query = `
SELECT DISTINCT t.name
FROM teams t
JOIN team_members tm ON tm.team_id = t.id
WHERE tm.user_id = $1
ORDER BY t.name`

	rows, err := q.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user team names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning team name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
