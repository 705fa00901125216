package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// CookieName is the session cookie carrying the platform session JWT.
const CookieName = "rise_session"

// SessionClaims are the custom claims embedded in the platform session JWT
// (§4.4 point 1).
type SessionClaims struct {
	Email string   `json:"email"`
	Teams []string `json:"groups"`
}

// SessionManager issues and validates RS256 platform session JWTs. RS256 (as
// opposed to the teacher's HS256) lets the public key be published so
// third-party verifiers — the ingress JWKS endpoint reuses the same
// mechanism — never need the signing secret.
type SessionManager struct {
	key       *rsa.PrivateKey
	publicURL string
	maxAge    time.Duration
}

// NewSessionManager builds a SessionManager from a PEM-encoded RSA private
// key. If pemKey is empty, a throwaway key is generated (dev only — tokens
// won't validate across process restarts).
func NewSessionManager(pemKey, publicURL string, maxAge time.Duration) (*SessionManager, error) {
	key, err := loadOrGenerateKey(pemKey)
	if err != nil {
		return nil, err
	}
	return &SessionManager{key: key, publicURL: publicURL, maxAge: maxAge}, nil
}

func loadOrGenerateKey(pemKey string) (*rsa.PrivateKey, error) {
	if pemKey == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generating dev signing key: %w", err)
		}
		return key, nil
	}

	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("decoding PEM signing key: no PEM block found")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key8, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("parsing RSA private key: %w", err)
		}
		rsaKey, ok := key8.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS8 key is not RSA")
		}
		return rsaKey, nil
	}
	return key, nil
}

func (sm *SessionManager) signer() (jose.Signer, error) {
	return jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: sm.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
}

// IssueToken mints a signed session JWT for sub (the user ID).
func (sm *SessionManager) IssueToken(sub string, claims SessionClaims) (string, error) {
	signer, err := sm.signer()
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:   sub,
		Issuer:    sm.publicURL,
		Audience:  jwt.Audience{sm.publicURL},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(sm.maxAge)),
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies signature, issuer, audience, and expiry.
func (sm *SessionManager) ValidateToken(raw string) (string, *SessionClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return "", nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom SessionClaims
	if err := tok.Claims(&sm.key.PublicKey, &registered, &custom); err != nil {
		return "", nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer:   sm.publicURL,
		Audience: jwt.Audience{sm.publicURL},
		Time:     time.Now(),
	}, 5*time.Second); err != nil {
		return "", nil, fmt.Errorf("validating claims: %w", err)
	}

	return registered.Subject, &custom, nil
}

// IssueCookie signs a session JWT and sets it as an HttpOnly cookie for
// browser clients; CLI clients carry the same token as a bearer header.
func (sm *SessionManager) IssueCookie(w http.ResponseWriter, sub string, claims SessionClaims) error {
	token, err := sm.IssueToken(sub, claims)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.maxAge.Seconds()),
	})
	return nil
}

func (sm *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
