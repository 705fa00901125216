package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// IngressClaims are the custom claims carried by the ingress application JWT
// (§4.4 point 2): a workload-identity token scoped to one project, minted on
// request and verifiable by any third party via the platform-wide JWKS
// endpoint (/.well-known/jwks.json) without contacting the platform.
type IngressClaims struct {
	ProjectID string `json:"project_id"`
}

// IngressIssuer mints and verifies workload application JWTs. It signs with
// a key distinct from the platform session key so that compromising one
// plane never exposes the other.
type IngressIssuer struct {
	key    *rsa.PrivateKey
	issuer string
	ttl    time.Duration
}

func NewIngressIssuer(pemKey, issuer string, ttl time.Duration) (*IngressIssuer, error) {
	key, err := loadOrGenerateKey(pemKey)
	if err != nil {
		return nil, err
	}
	return &IngressIssuer{key: key, issuer: issuer, ttl: ttl}, nil
}

func (ii *IngressIssuer) PublicKey() *rsa.PublicKey {
	return &ii.key.PublicKey
}

// Issue mints a token scoped to projectID and audienceURL — the project's
// production or staging URL, so the token is only valid against the
// deployment it was requested for.
func (ii *IngressIssuer) Issue(projectID uuid.UUID, audienceURL string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: ii.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:   projectID.String(),
		Issuer:    ii.issuer,
		Audience:  jwt.Audience{audienceURL},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ii.ttl)),
	}
	custom := IngressClaims{ProjectID: projectID.String()}

	token, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing ingress token: %w", err)
	}
	return token, nil
}

// Verify checks signature, issuer, and expiry. The caller supplies the
// expected audience since it varies per deployment URL.
func (ii *IngressIssuer) Verify(raw, expectedAudience string) (*IngressClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom IngressClaims
	if err := tok.Claims(&ii.key.PublicKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer:   ii.issuer,
		Audience: jwt.Audience{expectedAudience},
		Time:     time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	return &custom, nil
}
