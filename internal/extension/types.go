// Package extension implements the typed reconciler framework that drives
// project extensions (spec §4.6): a tick-driven claim loop generalized from
// pkg/escalation.Engine's tick/claim/dispatch shape into a registry of
// per-extension-type reconcile functions.
package extension

import (
	"context"
	"time"

	"github.com/risedotdev/rise/internal/db"
)

// ResultKind is the outcome of one reconcile call.
type ResultKind int

const (
	// Done means the extension has converged; it will next be revisited
	// on the framework's ordinary lease cadence.
	Done ResultKind = iota
	// Requeue asks to be revisited sooner (or later) than the default
	// lease, e.g. while waiting on an external provisioning call.
	Requeue
	// Error means reconcile failed transiently; the framework logs it and
	// leaves the extension to be reclaimed on the default cadence.
	Error
)

// Result is what a ReconcileFunc returns alongside the extension's new
// status document.
type Result struct {
	Kind         ResultKind
	RequeueAfter time.Duration
	Err          error
}

func DoneResult() Result                       { return Result{Kind: Done} }
func RequeueResult(after time.Duration) Result { return Result{Kind: Requeue, RequeueAfter: after} }
func ErrorResult(err error) Result              { return Result{Kind: Error, Err: err} }

// Request bundles the arguments spec.md's
// reconcile(project, name, spec, status) signature names, plus Deleting —
// the framework's way of telling the type-specific handler "this extension
// is soft-deleted, release your resources" rather than inventing a second
// entry point for cleanup.
type Request struct {
	Project  db.Project
	Name     string
	Spec     []byte
	Status   []byte
	Deleting bool
}

// ReconcileFunc is the per-type handler registered for one extension_type.
// It returns the extension's new status document (nil to leave status
// unchanged) and a Result describing what happens next.
type ReconcileFunc func(ctx context.Context, req Request) ([]byte, Result)
