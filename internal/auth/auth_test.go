package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if id := FromContext(ctx); id != nil {
		t.Fatalf("expected nil, got %+v", id)
	}

	userID := uuid.New()
	identity := &Identity{
		Subject:        userID.String(),
		Email:          "test@example.com",
		Teams:          []string{"platform"},
		IsPlatformUser: true,
		UserID:         &userID,
		Method:         MethodSession,
	}
	ctx = NewContext(ctx, identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.Subject != userID.String() {
		t.Errorf("Subject = %q, want %q", got.Subject, userID.String())
	}
	if got.IsServiceAccount() {
		t.Error("IsServiceAccount() = true for a human identity")
	}
}

func TestIdentityIsServiceAccount(t *testing.T) {
	saID := uuid.New()
	id := &Identity{ServiceAccountID: &saID, Method: MethodWorkloadIdentity}
	if !id.IsServiceAccount() {
		t.Error("IsServiceAccount() = false, want true")
	}
}

func TestSessionManagerIssueAndValidate(t *testing.T) {
	sm, err := NewSessionManager("", "https://rise.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	userID := uuid.New()
	token, err := sm.IssueToken(userID.String(), SessionClaims{
		Email: "alice@example.com",
		Teams: []string{"platform", "payments"},
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	sub, claims, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if sub != userID.String() {
		t.Errorf("sub = %q, want %q", sub, userID.String())
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
	}
	if len(claims.Teams) != 2 {
		t.Errorf("Teams = %v, want 2 entries", claims.Teams)
	}
}

func TestSessionManagerRejectsForeignKey(t *testing.T) {
	sm1, err := NewSessionManager("", "https://rise.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	sm2, err := NewSessionManager("", "https://rise.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	token, err := sm1.IssueToken(uuid.New().String(), SessionClaims{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, _, err := sm2.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail against a different signing key")
	}
}

func TestIngressIssuerScopesAudience(t *testing.T) {
	issuer, err := NewIngressIssuer("", "https://rise.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewIngressIssuer: %v", err)
	}

	projectID := uuid.New()
	token, err := issuer.Issue(projectID, "https://myapp.rise.app")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := issuer.Verify(token, "https://myapp.rise.app"); err != nil {
		t.Fatalf("Verify with correct audience: %v", err)
	}
	if _, err := issuer.Verify(token, "https://other.rise.app"); err == nil {
		t.Fatal("expected verification to fail for the wrong audience")
	}
}
