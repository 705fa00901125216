package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/risedotdev/rise/internal/db"
)

// ErrAmbiguousClaims is returned when a workload token's claims match more
// than one service account registered for its issuer (§4.4 point 2).
var ErrAmbiguousClaims = fmt.Errorf("workload identity token matches more than one service account")

// ErrNoMatchingServiceAccount is returned when no registered service account
// claim set is a subset of the token's claims.
var ErrNoMatchingServiceAccount = fmt.Errorf("no service account matches the presented token")

// WorkloadIdentityAuthenticator verifies a JWT against its own issuer's
// published JWKS — discovered on demand, since unlike the platform's single
// OIDC provider, a workload token's issuer is whatever external CI system
// (GitHub Actions, GitLab, a cloud provider) the calling service account
// registered — then matches its claims against the service accounts on
// file for that issuer.
type WorkloadIdentityAuthenticator struct {
	queries *db.Queries

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewWorkloadIdentityAuthenticator(queries *db.Queries) *WorkloadIdentityAuthenticator {
	return &WorkloadIdentityAuthenticator{
		queries:   queries,
		verifiers: make(map[string]*oidc.IDTokenVerifier),
	}
}

// Authenticate verifies rawToken's signature against its issuer's JWKS, then
// finds the unique service account whose claim set is a subset of the
// token's claims. Zero matches is unauthenticated; more than one is a
// configuration error the caller (project owner) must resolve by making
// service account claim sets more specific.
func (wa *WorkloadIdentityAuthenticator) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	issuer, err := unverifiedIssuer(rawToken)
	if err != nil {
		return nil, err
	}

	verifier, err := wa.verifierFor(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("resolving issuer %s: %w", issuer, err)
	}

	idToken, err := verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verifying workload token: %w", err)
	}

	var tokenClaims map[string]any
	if err := idToken.Claims(&tokenClaims); err != nil {
		return nil, fmt.Errorf("extracting token claims: %w", err)
	}

	candidates, err := wa.queries.ListActiveServiceAccountsByIssuer(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("listing service accounts for issuer %s: %w", issuer, err)
	}

	var matched *db.ServiceAccount
	for i := range candidates {
		if claimsSubsetOf(candidates[i].Claims, tokenClaims) {
			if matched != nil {
				return nil, ErrAmbiguousClaims
			}
			matched = &candidates[i]
		}
	}

	if matched == nil {
		return nil, ErrNoMatchingServiceAccount
	}

	return &Identity{
		Subject:          idToken.Subject,
		ServiceAccountID: &matched.ID,
		ProjectID:        &matched.ProjectID,
		Method:           MethodWorkloadIdentity,
	}, nil
}

func (wa *WorkloadIdentityAuthenticator) verifierFor(ctx context.Context, issuer string) (*oidc.IDTokenVerifier, error) {
	wa.mu.Lock()
	if v, ok := wa.verifiers[issuer]; ok {
		wa.mu.Unlock()
		return v, nil
	}
	wa.mu.Unlock()

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering issuer: %w", err)
	}
	// SkipClientIDCheck: workload issuers aren't registered with a client
	// ID here — claim matching against service accounts stands in for
	// audience validation.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})

	wa.mu.Lock()
	wa.verifiers[issuer] = verifier
	wa.mu.Unlock()

	return verifier, nil
}

// claimsSubsetOf reports whether every claim in want (a service account's
// registered claim set) is present with an equal value in got (the
// token's claims).
func claimsSubsetOf(want map[string]string, got map[string]any) bool {
	for k, v := range want {
		gv, ok := got[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", gv) != v {
			return false
		}
	}
	return true
}

func unverifiedIssuer(rawToken string) (string, error) {
	tok, err := jwt.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.RS256, jose.ES256})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", fmt.Errorf("reading unverified claims: %w", err)
	}
	if claims.Issuer == "" {
		return "", fmt.Errorf("token missing iss claim")
	}
	return claims.Issuer, nil
}
