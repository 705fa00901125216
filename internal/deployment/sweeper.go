package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/risedotdev/rise/internal/db"
)

// Sweeper periodically marks deployments whose expires_at has passed as
// Terminating/Expired, handing them to the engine's next claim for teardown.
// Grounded on pkg/roster.RunScheduleTopUpLoop's run-once-then-ticker shape.
type Sweeper struct {
	queries  *db.Queries
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(pool *pgxpool.Pool, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		queries:  db.New(pool),
		logger:   logger,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("deployment expiration sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.sweep(ctx); err != nil {
		s.logger.Error("expiration sweep", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deployment expiration sweeper stopped")
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("expiration sweep", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	expiring, err := s.queries.ListExpiring(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("listing expiring deployments: %w", err)
	}

	for _, d := range expiring {
		if err := s.queries.TransitionStatus(ctx, d.ID, db.StatusTerminating, strPtr(db.ReasonExpired)); err != nil {
			s.logger.Error("expiring deployment", "deployment_id", d.ID, "error", err)
			continue
		}
		s.logger.Info("deployment expired", "deployment_id", d.ID, "project_id", d.ProjectID)
	}
	return nil
}
