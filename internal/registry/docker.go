package registry

import (
	"context"
	"fmt"
)

// DockerProvider resolves credentials for a generic externally-managed
// registry (e.g. Docker Hub, GHCR, a self-hosted registry already
// authenticated via a pre-seeded image pull secret). It never returns
// secret material: callers that need to push still authenticate some
// other way, and the Kubernetes reconciler is expected to reuse whatever
// pull secret the project already carries rather than minting a new one
// from this provider.
type DockerProvider struct {
	registryURL      string
	repositoryPrefix string
}

func NewDockerProvider(registryURL, repositoryPrefix string) *DockerProvider {
	return &DockerProvider{registryURL: registryURL, repositoryPrefix: repositoryPrefix}
}

// CredentialsFor always returns empty Username/Password: this provider
// only resolves where an image lives, not how to authenticate to it.
func (p *DockerProvider) CredentialsFor(ctx context.Context, projectName string, scope Scope) (Credentials, error) {
	if projectName == "" {
		return Credentials{}, fmt.Errorf("project name is required")
	}
	return Credentials{
		RegistryURL: p.registryURL,
		Repository:  p.repositoryPrefix + projectName,
	}, nil
}
