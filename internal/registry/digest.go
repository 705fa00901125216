package registry

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/deployment"
)

var _ deployment.DigestResolver = (*DigestResolver)(nil)

// DigestResolver resolves an image reference to its content digest by
// fetching the remote manifest, authenticating with the broker's pull
// credentials for the owning project. It implements
// deployment.DigestResolver.
type DigestResolver struct {
	broker *Broker
}

func NewDigestResolver(broker *Broker) *DigestResolver {
	return &DigestResolver{broker: broker}
}

// ResolveDigest fetches image's remote descriptor and returns its digest
// in "sha256:..." form, used to pin a deployment that was submitted with
// a mutable tag (§4.1).
func (r *DigestResolver) ResolveDigest(ctx context.Context, project db.Project, image string) (string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", fmt.Errorf("parsing image reference %q: %w", image, err)
	}

	creds, err := r.broker.CredentialsFor(ctx, project.Name, ScopePull)
	if err != nil {
		return "", fmt.Errorf("fetching pull credentials for project %q: %w", project.Name, err)
	}

	authOpt := remote.WithAuth(authn.FromConfig(authn.AuthConfig{
		Username: creds.Username,
		Password: creds.Password,
	}))

	desc, err := remote.Get(ref, authOpt, remote.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetching manifest for %q: %w", image, err)
	}

	return desc.Digest.String(), nil
}
