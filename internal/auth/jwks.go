package auth

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"

	"github.com/go-jose/go-jose/v4"
)

// JWKSHandler serves the JSON Web Key Set for an RSA public key, letting
// third parties (ingress token consumers, other services) verify tokens
// signed by the corresponding private key without ever seeing it.
func JWKSHandler(pub *rsa.PublicKey, keyID string) http.HandlerFunc {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				KeyID:     keyID,
				Algorithm: string(jose.RS256),
				Use:       "sig",
			},
		},
	}

	body, err := json.Marshal(set)
	if err != nil {
		panic("auth: marshaling JWKS: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(body)
	}
}

// OIDCDiscoveryHandler serves a minimal OpenID Connect discovery document
// pointing at issuer's JWKS endpoint, so third-party consumers of the
// ingress application JWT (§4.4 point 2) can resolve verification keys the
// same way they would for any OIDC issuer.
func OIDCDiscoveryHandler(issuer string) http.HandlerFunc {
	doc := map[string]any{
		"issuer":                                 issuer,
		"jwks_uri":                               issuer + "/.well-known/jwks.json",
		"id_token_signing_alg_values_supported":  []string{"RS256"},
		"response_types_supported":               []string{"id_token"},
		"subject_types_supported":                []string{"public"},
	}

	body, err := json.Marshal(doc)
	if err != nil {
		panic("auth: marshaling OIDC discovery document: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(body)
	}
}
