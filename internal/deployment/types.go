// Package deployment implements the engine loop that drives deployments
// through their state machine (spec §4.1): claim, dispatch, reconcile.
package deployment

import (
	"context"

	"github.com/risedotdev/rise/internal/db"
)

// Reconciler converges cluster state with a deployment record. Implemented
// by internal/k8s; kept as an interface here so the engine never imports
// client-go directly.
type Reconciler interface {
	// Apply creates or updates the namespace, pull secret, ReplicaSet,
	// Service, and Ingress for d. Called on Pushed (first apply) and on
	// Healthy/Unhealthy with needs_reconcile (re-apply).
	Apply(ctx context.Context, project db.Project, d db.Deployment) error

	// PollReady reports whether d's ReplicaSet has reached the desired
	// replica count and passes its port-open health check.
	PollReady(ctx context.Context, project db.Project, d db.Deployment) (bool, error)

	// CutOver atomically repoints the group's Service selector at d. It
	// does not report the previously active deployment; the engine hands
	// that peer to termination through db.ActivateAndSupersede.
	CutOver(ctx context.Context, project db.Project, d db.Deployment) error

	// Teardown deletes d's ReplicaSet, retaining Service/Ingress if
	// another active deployment remains in the group.
	Teardown(ctx context.Context, project db.Project, d db.Deployment) error
}

// DigestResolver resolves a pushed image reference to its content digest
// (spec §4.1 Pending dispatch). Implemented by internal/registry.
type DigestResolver interface {
	ResolveDigest(ctx context.Context, project db.Project, image string) (string, error)
}

// BuildRequester kicks off an out-of-process build for deployments
// submitted without a pre-built image. The external build runner reports
// completion asynchronously (via the HTTP API), advancing the deployment
// from Building through Pushing to Pushed — the engine only initiates the
// request here and otherwise leaves Building deployments alone.
type BuildRequester interface {
	RequestBuild(ctx context.Context, project db.Project, d db.Deployment) error
}

