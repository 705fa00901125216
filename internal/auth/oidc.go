package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCClaims are the ID token claims consumed during the login callback
// (§4.4 point 1). Unlike workload-identity matching — which trusts an
// arbitrary external issuer per service account — this authenticator only
// ever talks to the single configured platform identity provider.
type OIDCClaims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Groups  []string `json:"groups"`
}

// DisplayName returns the best available display name.
func (c *OIDCClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// OIDCAuthenticator validates ID tokens from the platform's configured
// identity provider and exposes its OAuth2 endpoint for the Authorization
// Code flow.
type OIDCAuthenticator struct {
	Verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// NewOIDCAuthenticator performs OIDC discovery against issuerURL. This makes
// a network call to fetch the provider's configuration and public keys.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return &OIDCAuthenticator{Verifier: verifier, provider: provider}, nil
}

func (a *OIDCAuthenticator) Endpoint() oauth2.Endpoint {
	return a.provider.Endpoint()
}

// AuthenticateCallbackToken validates the ID token returned by the
// Authorization Code + PKCE exchange and extracts login claims.
func (a *OIDCAuthenticator) AuthenticateCallbackToken(ctx context.Context, rawToken string) (*OIDCClaims, error) {
	idToken, err := a.Verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verifying ID token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting claims: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("ID token missing sub claim")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token missing email claim")
	}

	return &claims, nil
}
