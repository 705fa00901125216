package registry

import (
	"context"
	"testing"
)

func TestDockerProvider_CredentialsFor(t *testing.T) {
	p := NewDockerProvider("registry.example.com", "rise-")

	creds, err := p.CredentialsFor(context.Background(), "acme", ScopePull)
	if err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}
	if creds.RegistryURL != "registry.example.com" {
		t.Errorf("RegistryURL = %q, want %q", creds.RegistryURL, "registry.example.com")
	}
	if creds.Repository != "rise-acme" {
		t.Errorf("Repository = %q, want %q", creds.Repository, "rise-acme")
	}
	if creds.Username != "" || creds.Password != "" {
		t.Errorf("expected no credential material, got username=%q password=%q", creds.Username, creds.Password)
	}
}

func TestDockerProvider_RequiresProjectName(t *testing.T) {
	p := NewDockerProvider("registry.example.com", "rise-")

	if _, err := p.CredentialsFor(context.Background(), "", ScopePull); err == nil {
		t.Error("expected error for empty project name, got nil")
	}
}
