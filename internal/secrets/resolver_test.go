package secrets

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/risedotdev/rise/internal/db"
)

type fakeEnvLister struct {
	vars []db.EnvVar
}

func (f *fakeEnvLister) ListDeploymentEnvVars(ctx context.Context, deploymentID uuid.UUID) ([]db.EnvVar, error) {
	return f.vars, nil
}

func TestService_ResolveEnv_DecryptsSecretsAndPassesThroughPlain(t *testing.T) {
	provider, err := NewLocalProvider("test-passphrase")
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}

	ciphertext, meta, err := provider.Encrypt(context.Background(), []byte("s3cr3t"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	lister := &fakeEnvLister{vars: []db.EnvVar{
		{Key: "DATABASE_PASSWORD", Value: ciphertext, IsSecret: true, EncryptionMeta: meta},
		{Key: "LOG_LEVEL", Value: []byte("debug"), IsSecret: false},
	}}
	svc := NewService(provider, lister)

	env, err := svc.ResolveEnv(context.Background(), db.Project{}, db.Deployment{ID: uuid.New()})
	if err != nil {
		t.Fatalf("ResolveEnv() error = %v", err)
	}

	if env["DATABASE_PASSWORD"] != "s3cr3t" {
		t.Errorf("DATABASE_PASSWORD = %q, want %q", env["DATABASE_PASSWORD"], "s3cr3t")
	}
	if env["LOG_LEVEL"] != "debug" {
		t.Errorf("LOG_LEVEL = %q, want %q", env["LOG_LEVEL"], "debug")
	}
}
