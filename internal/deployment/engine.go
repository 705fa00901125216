package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/risedotdev/rise/internal/db"
)

// Engine is a background worker that polls for claimable deployments and
// drives them through the state machine one dispatch at a time (§4.1).
// Multiple Engine instances may run concurrently against the same database;
// ClaimNext's FOR UPDATE SKIP LOCKED ensures they never contend for the same
// row.
type Engine struct {
	pool     *pgxpool.Pool
	queries  *db.Queries
	logger   *slog.Logger
	interval time.Duration

	reconciler     Reconciler
	digestResolver DigestResolver
	buildRequester BuildRequester

	deployTimeout time.Duration
	maxAttempts   int
	backoffBase   time.Duration

	claimDuration    prometheus.Histogram
	reconcileSeconds *prometheus.HistogramVec
	statusGauge      *prometheus.CounterVec
}

// Config bundles the tunables NewEngine needs beyond its collaborators.
type Config struct {
	PollInterval  time.Duration
	DeployTimeout time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
}

func NewEngine(
	pool *pgxpool.Pool,
	reconciler Reconciler,
	digestResolver DigestResolver,
	buildRequester BuildRequester,
	logger *slog.Logger,
	cfg Config,
	claimDuration prometheus.Histogram,
	reconcileSeconds *prometheus.HistogramVec,
	statusGauge *prometheus.CounterVec,
) *Engine {
	return &Engine{
		pool:             pool,
		queries:          db.New(pool),
		logger:           logger,
		interval:         cfg.PollInterval,
		reconciler:       reconciler,
		digestResolver:   digestResolver,
		buildRequester:   buildRequester,
		deployTimeout:    cfg.DeployTimeout,
		maxAttempts:      cfg.MaxAttempts,
		backoffBase:      cfg.BackoffBase,
		claimDuration:    claimDuration,
		reconcileSeconds: reconcileSeconds,
		statusGauge:      statusGauge,
	}
}

// Run starts the engine loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("deployment engine started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("deployment engine stopped")
			return nil
		case <-ticker.C:
			// Drain the claimable backlog before waiting for the next tick,
			// same shape as pkg/escalation.Engine.Run's inner loop.
			for {
				claimed, err := e.tick(ctx)
				if err != nil {
					e.logger.Error("deployment engine tick", "error", err)
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// tick claims and dispatches at most one deployment. It returns claimed=true
// if a row was found, so Run can keep draining.
func (e *Engine) tick(ctx context.Context) (claimed bool, err error) {
	start := time.Now()
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning claim transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	d, ok, err := e.queries.ClaimNext(ctx, tx)
	if e.claimDuration != nil {
		e.claimDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return false, fmt.Errorf("claiming next deployment: %w", err)
	}
	if !ok {
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("committing empty claim: %w", err)
		}
		committed = true
		return false, nil
	}

	txq := db.New(tx)
	project, err := e.queries.GetProject(ctx, d.ProjectID)
	if err != nil {
		return true, fmt.Errorf("looking up project %s for deployment %s: %w", d.ProjectID, d.ID, err)
	}

	dispatchStart := time.Now()
	dispatchErr := e.dispatch(ctx, tx, txq, project, d)
	if e.reconcileSeconds != nil {
		e.reconcileSeconds.WithLabelValues(d.Status).Observe(time.Since(dispatchStart).Seconds())
	}

	if dispatchErr != nil {
		// Each dispatch step already retried internally (e.retry) up to
		// maxAttempts with exponential backoff, so an error reaching here
		// means the budget for this claim is exhausted — fail hard rather
		// than leaving the row to be silently reclaimed forever.
		e.logger.Error("dispatch failed after retry budget exhausted",
			"deployment_id", d.ID, "status", d.Status, "error", dispatchErr)
		if err := txq.TransitionStatus(ctx, d.ID, db.StatusFailed, strPtr(db.ReasonFailed)); err != nil {
			return true, fmt.Errorf("transitioning to failed: %w", err)
		}
		if err := txq.SetControllerError(ctx, d.ID, dispatchErr.Error()); err != nil {
			return true, fmt.Errorf("recording controller error: %w", err)
		}
	}

	if e.statusGauge != nil {
		e.statusGauge.WithLabelValues(d.Status).Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return true, fmt.Errorf("committing dispatch: %w", err)
	}
	committed = true
	return true, nil
}

// dispatch implements the per-status transition table from §4.1 point 2.
func (e *Engine) dispatch(ctx context.Context, tx pgx.Tx, txq *db.Queries, project db.Project, d db.Deployment) error {
	switch d.Status {
	case db.StatusPending:
		return e.dispatchPending(ctx, txq, project, d)
	case db.StatusPushed:
		return e.dispatchPushed(ctx, txq, project, d)
	case db.StatusDeploying:
		return e.dispatchDeploying(ctx, tx, txq, project, d)
	case db.StatusHealthy, db.StatusUnhealthy:
		return e.dispatchActive(ctx, txq, project, d)
	case db.StatusCancelling:
		return txq.TransitionStatus(ctx, d.ID, db.StatusCancelled, strPtr(db.ReasonCancelled))
	case db.StatusTerminating:
		return e.dispatchTerminating(ctx, txq, project, d)
	default:
		// Building/Pushing: owned by the external build runner, not this
		// engine. Nothing to do on this claim.
		return nil
	}
}

func (e *Engine) dispatchPending(ctx context.Context, txq *db.Queries, project db.Project, d db.Deployment) error {
	if d.Image.Valid && d.Image.String != "" {
		var digest string
		err := e.retry(ctx, func() (err error) {
			digest, err = e.digestResolver.ResolveDigest(ctx, project, d.Image.String)
			return err
		})
		if err != nil {
			return fmt.Errorf("resolving image digest: %w", err)
		}
		if err := txq.SetImageDigest(ctx, d.ID, digest); err != nil {
			return err
		}
		return txq.TransitionStatus(ctx, d.ID, db.StatusPushed, nil)
	}

	if e.buildRequester == nil {
		return fmt.Errorf("deployment has no image and no build runner is configured")
	}
	if err := e.retry(ctx, func() error { return e.buildRequester.RequestBuild(ctx, project, d) }); err != nil {
		return fmt.Errorf("requesting build: %w", err)
	}
	return txq.TransitionStatus(ctx, d.ID, db.StatusBuilding, nil)
}

func (e *Engine) dispatchPushed(ctx context.Context, txq *db.Queries, project db.Project, d db.Deployment) error {
	if err := e.retry(ctx, func() error { return e.reconciler.Apply(ctx, project, d) }); err != nil {
		return fmt.Errorf("applying infrastructure: %w", err)
	}
	if err := txq.SetDeployingStarted(ctx, d.ID); err != nil {
		return err
	}
	return txq.TransitionStatus(ctx, d.ID, db.StatusDeploying, nil)
}

func (e *Engine) dispatchDeploying(ctx context.Context, tx pgx.Tx, txq *db.Queries, project db.Project, d db.Deployment) error {
	if d.DeployingStartedAt.Valid && time.Since(d.DeployingStartedAt.Time) > e.deployTimeout {
		return txq.TransitionStatus(ctx, d.ID, db.StatusFailed, strPtr(db.ReasonFailed))
	}

	var ready bool
	err := e.retry(ctx, func() (err error) {
		ready, err = e.reconciler.PollReady(ctx, project, d)
		return err
	})
	if err != nil {
		return fmt.Errorf("polling readiness: %w", err)
	}
	if !ready {
		// Not ready yet; stay in Deploying and let the next claim retry.
		return nil
	}

	if err := e.retry(ctx, func() error { return e.reconciler.CutOver(ctx, project, d) }); err != nil {
		return fmt.Errorf("cutting over traffic: %w", err)
	}
	// ActivateAndSupersede both flips is_active and sets status Healthy in
	// one statement (§5 ordering guarantee: readers never see two active
	// deployments in the same group).
	return txq.ActivateAndSupersede(ctx, tx, d.ProjectID, d.DeploymentGroup, d.ID)
}

func (e *Engine) dispatchActive(ctx context.Context, txq *db.Queries, project db.Project, d db.Deployment) error {
	if !d.NeedsReconcile {
		return nil
	}
	if err := e.retry(ctx, func() error { return e.reconciler.Apply(ctx, project, d) }); err != nil {
		return fmt.Errorf("re-applying infrastructure: %w", err)
	}
	return txq.SetNeedsReconcile(ctx, d.ID, false)
}

func (e *Engine) dispatchTerminating(ctx context.Context, txq *db.Queries, project db.Project, d db.Deployment) error {
	if err := e.retry(ctx, func() error { return e.reconciler.Teardown(ctx, project, d) }); err != nil {
		return fmt.Errorf("tearing down: %w", err)
	}

	var reason *string
	if d.TerminationReason.Valid {
		r := d.TerminationReason.String
		reason = &r
	}
	return txq.TransitionStatus(ctx, d.ID, terminalStatusForReason(reason), reason)
}

// terminalStatusForReason maps a termination reason to the terminal status
// it resolves to once teardown completes (§4.1 Terminating side paths).
// Unrecognized or absent reasons fall back to Stopped, the user-initiated
// default.
func terminalStatusForReason(reason *string) string {
	if reason == nil {
		return db.StatusStopped
	}
	switch *reason {
	case db.ReasonSuperseded:
		return db.StatusSuperseded
	case db.ReasonExpired:
		return db.StatusExpired
	case db.ReasonFailed:
		return db.StatusFailed
	default:
		return db.StatusStopped
	}
}

// retry runs fn up to e.maxAttempts times with exponential backoff
// (e.backoffBase * 2^attempt), bounded to this single claim's dispatch — not
// a circuit breaker over repeated claims, just a budgeted retry for
// transient Kubernetes/registry I/O errors (§4.1).
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	attempts := e.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := fn(); err != nil {
			lastErr = err
			if i == attempts-1 {
				break
			}
			delay := e.backoffBase * time.Duration(1<<uint(i))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}

func strPtr(s string) *string { return &s }
