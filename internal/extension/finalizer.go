package extension

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/risedotdev/rise/internal/db"
)

// ProjectFinalizer is the project lifecycle controller from spec.md §5: a
// periodic loop, independent of the extension framework's own tick, that
// completes a Deleting project's teardown once every extension it owns has
// finished cleanup — finalizer semantics, mirrored from the project's
// finalizers column rather than a Kubernetes finalizer list.
type ProjectFinalizer struct {
	pool     *pgxpool.Pool
	queries  *db.Queries
	logger   *slog.Logger
	interval time.Duration
}

func NewProjectFinalizer(pool *pgxpool.Pool, logger *slog.Logger, interval time.Duration) *ProjectFinalizer {
	return &ProjectFinalizer{pool: pool, queries: db.New(pool), logger: logger, interval: interval}
}

func (f *ProjectFinalizer) Run(ctx context.Context) error {
	f.logger.Info("project finalizer started", "interval", f.interval)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	if err := f.tick(ctx); err != nil {
		f.logger.Error("project finalizer tick", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("project finalizer stopped")
			return nil
		case <-ticker.C:
			if err := f.tick(ctx); err != nil {
				f.logger.Error("project finalizer tick", "error", err)
			}
		}
	}
}

func (f *ProjectFinalizer) tick(ctx context.Context) error {
	projects, _, err := f.queries.ListProjects(ctx, db.ListProjectsParams{Limit: 1000})
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	for _, p := range projects {
		if p.Status != db.ProjectDeleting {
			continue
		}
		remaining, err := f.queries.CountActiveExtensions(ctx, p.ID)
		if err != nil {
			f.logger.Error("counting active extensions", "project", p.Name, "error", err)
			continue
		}
		if remaining > 0 {
			continue
		}
		if err := f.queries.DeleteProject(ctx, p.ID); err != nil {
			f.logger.Error("deleting finalized project", "project", p.Name, "error", err)
			continue
		}
		f.logger.Info("project deletion finalized", "project", p.Name)
	}
	return nil
}
