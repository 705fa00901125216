// Package db is a hand-written, sqlc-style data access layer. Every query
// used by the rest of the application lives behind a typed method on
// *Queries; no other package issues raw SQL against these tables.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts over *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx so the same
// generated-style query methods work inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the data access layer. New wraps any DBTX — a pool for
// ordinary calls, a transaction when multiple statements must be atomic.
type Queries struct {
	db DBTX
}

func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// WithTx returns a *Queries bound to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
