package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type CreateUserParams struct {
	Email          string
	IsPlatformUser bool
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	const query = `
INSERT INTO users (email, is_platform_user)
VALUES (lower($1), $2)
RETURNING id, email, is_platform_user, created_at, updated_at`

	var u User
	err := q.db.QueryRow(ctx, query, arg.Email, arg.IsPlatformUser).Scan(
		&u.ID, &u.Email, &u.IsPlatformUser, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
SELECT id, email, is_platform_user, created_at, updated_at
FROM users WHERE email = lower($1)`

	var u User
	err := q.db.QueryRow(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.IsPlatformUser, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	const query = `
SELECT id, email, is_platform_user, created_at, updated_at
FROM users WHERE id = $1`

	var u User
	err := q.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.IsPlatformUser, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// FindOrCreateOIDCUser looks up a user by case-insensitive email, creating it
// if absent. isPlatformUser is only honored on first creation.
func (q *Queries) FindOrCreateOIDCUser(ctx context.Context, email string, isPlatformUser bool) (User, error) {
	u, err := q.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	return q.CreateUser(ctx, CreateUserParams{Email: email, IsPlatformUser: isPlatformUser})
}
