// Package registry implements the credential broker (§4.3): a
// project-scoped push/pull credential source plus digest resolution, used
// both by submitters (to push a built image) and by the Kubernetes
// reconciler (to seed image pull secrets).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Scope is the access scope a credential request is narrowed to.
type Scope string

const (
	ScopePush Scope = "push"
	ScopePull Scope = "pull"
)

// Credentials are registry credentials scoped to one project.
type Credentials struct {
	RegistryURL string
	Username    string
	Password    string
	Repository  string
	ExpiresAt   time.Time
}

// Provider issues scoped credentials for a project. Implementations MUST
// reject requests they cannot scope to the project's repository prefix —
// the broker never hands back an unscoped, cluster-wide credential.
type Provider interface {
	CredentialsFor(ctx context.Context, projectName string, scope Scope) (Credentials, error)
}

// safetyMargin is subtracted from a credential's reported expiry so the
// cache never hands out a token that's about to be rejected mid-request.
const safetyMargin = 2 * time.Minute

// Broker caches provider-issued credentials in memory, keyed by
// (project, scope), until expiration minus safetyMargin (§4.3).
type Broker struct {
	provider Provider

	mu    sync.Mutex
	cache map[cacheKey]Credentials
}

type cacheKey struct {
	project string
	scope   Scope
}

func NewBroker(provider Provider) *Broker {
	return &Broker{
		provider: provider,
		cache:    make(map[cacheKey]Credentials),
	}
}

// CredentialsFor returns cached credentials if still fresh, otherwise
// fetches and caches a new set from the provider.
func (b *Broker) CredentialsFor(ctx context.Context, projectName string, scope Scope) (Credentials, error) {
	key := cacheKey{project: projectName, scope: scope}

	b.mu.Lock()
	if creds, ok := b.cache[key]; ok && time.Now().Before(creds.ExpiresAt.Add(-safetyMargin)) {
		b.mu.Unlock()
		return creds, nil
	}
	b.mu.Unlock()

	creds, err := b.provider.CredentialsFor(ctx, projectName, scope)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetching credentials for project %q: %w", projectName, err)
	}

	b.mu.Lock()
	b.cache[key] = creds
	b.mu.Unlock()
	return creds, nil
}

// InvalidateProject drops any cached credentials for a project, forcing the
// next request to hit the provider.
func (b *Broker) InvalidateProject(projectName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, cacheKey{project: projectName, scope: ScopePush})
	delete(b.cache, cacheKey{project: projectName, scope: ScopePull})
}
