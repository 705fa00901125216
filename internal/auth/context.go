package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// Method identifies how the caller authenticated.
type Method string

const (
	MethodSession          Method = "session"
	MethodWorkloadIdentity Method = "workload_identity"
)

// Identity is the authenticated principal attached to a request context by
// Middleware. Exactly one of UserID or ServiceAccountID is set.
type Identity struct {
	Subject          string
	Email            string
	Teams            []string
	IsPlatformUser   bool
	UserID           *uuid.UUID
	ServiceAccountID *uuid.UUID
	ProjectID        *uuid.UUID // set for workload-identity principals: the project they act for
	Method           Method
}

// IsServiceAccount reports whether this identity is a workload-identity
// (CI) principal rather than a human user.
func (id *Identity) IsServiceAccount() bool {
	return id.ServiceAccountID != nil
}

func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
