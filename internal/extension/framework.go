package extension

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/risedotdev/rise/internal/db"
)

// Framework is a background worker that polls for claimable extensions and
// drives each through its registered reconcile function, same
// tick/claim/dispatch shape as deployment.Engine and
// pkg/escalation.Engine before it.
type Framework struct {
	pool     *pgxpool.Pool
	queries  *db.Queries
	logger   *slog.Logger
	interval time.Duration
	leaseFor time.Duration

	registry map[string]ReconcileFunc

	reconcileTotal *prometheus.CounterVec // rise_extension_reconcile_total{kind,outcome}
}

func NewFramework(pool *pgxpool.Pool, logger *slog.Logger, interval, leaseFor time.Duration, reconcileTotal *prometheus.CounterVec) *Framework {
	return &Framework{
		pool:           pool,
		queries:        db.New(pool),
		logger:         logger,
		interval:       interval,
		leaseFor:       leaseFor,
		registry:       make(map[string]ReconcileFunc),
		reconcileTotal: reconcileTotal,
	}
}

// Register binds a reconcile function to an extension_type. Registering
// the same type twice replaces the previous handler.
func (f *Framework) Register(extensionType string, fn ReconcileFunc) {
	f.registry[extensionType] = fn
}

// Run starts the framework loop. It blocks until ctx is cancelled.
func (f *Framework) Run(ctx context.Context) error {
	f.logger.Info("extension framework started", "interval", f.interval)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("extension framework stopped")
			return nil
		case <-ticker.C:
			for {
				claimed, err := f.tick(ctx)
				if err != nil {
					f.logger.Error("extension framework tick", "error", err)
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// tick claims and reconciles at most one extension. It returns
// claimed=true if a row was found, so Run can keep draining the backlog.
func (f *Framework) tick(ctx context.Context) (bool, error) {
	e, ok, err := f.queries.ClaimPendingExtension(ctx, time.Now(), f.leaseFor)
	if err != nil {
		return false, fmt.Errorf("claiming pending extension: %w", err)
	}
	if !ok {
		return false, nil
	}

	project, err := f.queries.GetProject(ctx, e.ProjectID)
	if err != nil {
		return true, fmt.Errorf("looking up project %s for extension %s: %w", e.ProjectID, e.Name, err)
	}

	fn, registered := f.registry[e.ExtensionType]
	if !registered {
		f.logger.Error("no reconciler registered for extension type",
			"project", project.Name, "extension", e.Name, "type", e.ExtensionType)
		return true, nil
	}

	req := Request{
		Project:  project,
		Name:     e.Name,
		Spec:     e.Spec,
		Status:   e.Status,
		Deleting: e.DeletedAt.Valid,
	}
	newStatus, result := fn(ctx, req)
	f.observe(e.ExtensionType, result)

	if newStatus != nil {
		if err := f.queries.UpdateExtensionStatus(ctx, e.ProjectID, e.Name, newStatus); err != nil {
			return true, fmt.Errorf("updating extension status: %w", err)
		}
	}

	switch result.Kind {
	case Done:
		if req.Deleting {
			if err := f.queries.DeleteExtension(ctx, e.ProjectID, e.Name); err != nil {
				return true, fmt.Errorf("deleting cleaned-up extension: %w", err)
			}
		}
	case Requeue:
		if result.RequeueAfter > 0 {
			if err := f.queries.SetExtensionLease(ctx, e.ProjectID, e.Name, time.Now().Add(result.RequeueAfter)); err != nil {
				return true, fmt.Errorf("setting requeue lease: %w", err)
			}
		}
	case Error:
		f.logger.Error("extension reconcile failed",
			"project", project.Name, "extension", e.Name, "type", e.ExtensionType, "error", result.Err)
	}

	return true, nil
}

func (f *Framework) observe(extensionType string, result Result) {
	if f.reconcileTotal == nil {
		return
	}
	label := "done"
	switch result.Kind {
	case Requeue:
		label = "requeue"
	case Error:
		label = "error"
	}
	f.reconcileTotal.WithLabelValues(extensionType, label).Inc()
}
