package secrets

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/risedotdev/rise/internal/db"
)

// EnvLister is the subset of *db.Queries the resolver needs to read a
// deployment's frozen env var snapshot. Satisfied by *db.Queries.
type EnvLister interface {
	ListDeploymentEnvVars(ctx context.Context, deploymentID uuid.UUID) ([]db.EnvVar, error)
}

var _ EnvLister = (*db.Queries)(nil)

// Service decrypts and encrypts env var values behind a single Provider,
// and resolves a deployment's full env map for pod injection (implements
// k8s.EnvResolver structurally, without either package importing the
// other).
type Service struct {
	provider Provider
	envs     EnvLister
}

func NewService(provider Provider, envs EnvLister) *Service {
	return &Service{provider: provider, envs: envs}
}

// EncryptValue seals plaintext for storage in env_vars.value when
// is_secret is true.
func (s *Service) EncryptValue(ctx context.Context, plaintext []byte) (ciphertext, meta []byte, err error) {
	return s.provider.Encrypt(ctx, plaintext)
}

// DecryptValue reverses EncryptValue, e.g. for an explicit reveal endpoint
// against an is_retrievable secret.
func (s *Service) DecryptValue(ctx context.Context, ciphertext, meta []byte) ([]byte, error) {
	return s.provider.Decrypt(ctx, ciphertext, meta)
}

// ResolveEnv decrypts and merges a deployment's stored env var snapshot
// into a plain map for pod spec injection (§4.5).
func (s *Service) ResolveEnv(ctx context.Context, project db.Project, d db.Deployment) (map[string]string, error) {
	vars, err := s.envs.ListDeploymentEnvVars(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment env vars: %w", err)
	}

	out := make(map[string]string, len(vars))
	for _, v := range vars {
		if !v.IsSecret {
			out[v.Key] = string(v.Value)
			continue
		}
		plaintext, err := s.provider.Decrypt(ctx, v.Value, v.EncryptionMeta)
		if err != nil {
			return nil, fmt.Errorf("decrypting env var %q: %w", v.Key, err)
		}
		out[v.Key] = string(plaintext)
	}
	return out, nil
}
