package registry

import (
	"context"
	"testing"
	"time"
)

type fakeProvider struct {
	calls int
	creds Credentials
	err   error
}

func (f *fakeProvider) CredentialsFor(ctx context.Context, projectName string, scope Scope) (Credentials, error) {
	f.calls++
	return f.creds, f.err
}

func TestBroker_CachesUntilSafetyMargin(t *testing.T) {
	provider := &fakeProvider{creds: Credentials{
		RegistryURL: "registry.example.com",
		Password:    "token-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	b := NewBroker(provider)

	first, err := b.CredentialsFor(context.Background(), "acme", ScopePull)
	if err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}
	second, err := b.CredentialsFor(context.Background(), "acme", ScopePull)
	if err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1 (second call should hit cache)", provider.calls)
	}
	if first.Password != second.Password {
		t.Errorf("cached credentials differ: %q vs %q", first.Password, second.Password)
	}
}

func TestBroker_RefetchesPastSafetyMargin(t *testing.T) {
	provider := &fakeProvider{creds: Credentials{
		RegistryURL: "registry.example.com",
		Password:    "token-1",
		ExpiresAt:   time.Now().Add(safetyMargin / 2),
	}}
	b := NewBroker(provider)

	if _, err := b.CredentialsFor(context.Background(), "acme", ScopePull); err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}
	if _, err := b.CredentialsFor(context.Background(), "acme", ScopePull); err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}

	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2 (cached credential is within safety margin of expiry)", provider.calls)
	}
}

func TestBroker_CachesScopesIndependently(t *testing.T) {
	provider := &fakeProvider{creds: Credentials{ExpiresAt: time.Now().Add(time.Hour)}}
	b := NewBroker(provider)

	if _, err := b.CredentialsFor(context.Background(), "acme", ScopePull); err != nil {
		t.Fatalf("CredentialsFor(pull) error = %v", err)
	}
	if _, err := b.CredentialsFor(context.Background(), "acme", ScopePush); err != nil {
		t.Fatalf("CredentialsFor(push) error = %v", err)
	}

	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2 (push and pull are cached independently)", provider.calls)
	}
}

func TestBroker_InvalidateProject(t *testing.T) {
	provider := &fakeProvider{creds: Credentials{ExpiresAt: time.Now().Add(time.Hour)}}
	b := NewBroker(provider)

	if _, err := b.CredentialsFor(context.Background(), "acme", ScopePull); err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}
	b.InvalidateProject("acme")
	if _, err := b.CredentialsFor(context.Background(), "acme", ScopePull); err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}

	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2 (invalidation should force a refetch)", provider.calls)
	}
}
