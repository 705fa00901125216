package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/httpserver"
)

const oidcStateTTL = 5 * time.Minute

// pkceState is what's persisted in Redis between the login redirect and the
// callback, keyed by the opaque state value.
type pkceState struct {
	Verifier string `json:"verifier"`
}

// OIDCFlowHandler drives the Authorization Code + PKCE exchange against the
// platform's single configured identity provider and mints a session.
type OIDCFlowHandler struct {
	oauth2Cfg   *oauth2.Config
	oidcAuth    *OIDCAuthenticator
	sessionMgr  *SessionManager
	queries     *db.Queries
	redis       *redis.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger

	// SuccessURL is where the browser is redirected after successful
	// authentication. Defaults to "/" if empty.
	SuccessURL string
}

func NewOIDCFlowHandler(
	oauth2Cfg *oauth2.Config,
	oidcAuth *OIDCAuthenticator,
	sm *SessionManager,
	queries *db.Queries,
	rdb *redis.Client,
	rateLimiter *RateLimiter,
	logger *slog.Logger,
) *OIDCFlowHandler {
	return &OIDCFlowHandler{
		oauth2Cfg:   oauth2Cfg,
		oidcAuth:    oidcAuth,
		sessionMgr:  sm,
		queries:     queries,
		redis:       rdb,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// HandleLogin redirects the browser to the identity provider, carrying a
// PKCE code challenge derived from a verifier stashed in Redis under the
// opaque state value. Rate limited per IP so a script can't hammer the IdP
// redirect or flood Redis with abandoned PKCE states.
func (h *OIDCFlowHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if h.rateLimiter != nil {
		result, err := h.rateLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("oidc: rate limit check failed", "error", err)
		} else if !result.Allowed {
			retryAfter := int(time.Until(result.RetryAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
			return
		}
	}

	state, err := randomToken()
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to generate state")
		return
	}
	verifier, err := randomToken()
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to generate verifier")
		return
	}

	body, err := json.Marshal(pkceState{Verifier: verifier})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to encode state")
		return
	}

	if err := h.redis.Set(r.Context(), oidcStateKey(state), body, oidcStateTTL).Err(); err != nil {
		h.logger.Error("oidc: storing state in redis", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to store state")
		return
	}

	challenge := codeChallengeS256(verifier)
	url := h.oauth2Cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleCallback handles the IdP redirect after authentication, exchanging
// the authorization code for tokens and establishing a session.
func (h *OIDCFlowHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	state := r.URL.Query().Get("state")
	if state == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "missing state parameter")
		return
	}

	// Single-use: GetDel atomically reads and removes, so a replayed
	// callback with the same state always fails.
	raw, err := h.redis.GetDel(ctx, oidcStateKey(state)).Result()
	if err != nil || raw == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid or expired state")
		return
	}
	var pkce pkceState
	if err := json.Unmarshal([]byte(raw), &pkce); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "corrupt state")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		h.logger.Warn("oidc: identity provider returned error", "error", errParam, "description", desc)
		h.recordFailure(ctx, ip)
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication failed: "+errParam)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "missing code parameter")
		return
	}

	oauth2Token, err := h.oauth2Cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", pkce.Verifier),
	)
	if err != nil {
		h.logger.Error("oidc: code exchange failed", "error", err)
		h.recordFailure(ctx, ip)
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "code exchange failed")
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		h.recordFailure(ctx, ip)
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no id_token in response")
		return
	}

	claims, err := h.oidcAuth.AuthenticateCallbackToken(ctx, rawIDToken)
	if err != nil {
		h.logger.Error("oidc: token verification failed", "error", err)
		h.recordFailure(ctx, ip)
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid id_token")
		return
	}

	user, err := h.queries.FindOrCreateOIDCUser(ctx, claims.Email, false)
	if err != nil {
		h.logger.Error("oidc: user lookup/create failed", "error", err, "email", claims.Email)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to resolve user")
		return
	}

	if err := h.syncGroups(ctx, user.ID, claims.Groups); err != nil {
		h.logger.Error("oidc: syncing idp-managed teams", "error", err, "email", claims.Email)
	}

	teams, err := h.queries.ListUserTeamNames(ctx, user.ID)
	if err != nil {
		h.logger.Error("oidc: listing user teams", "error", err)
	}

	if err := h.sessionMgr.IssueCookie(w, user.ID.String(), SessionClaims{
		Email: user.Email,
		Teams: teams,
	}); err != nil {
		h.logger.Error("oidc: issuing session token", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.Reset(ctx, ip); err != nil {
			h.logger.Error("oidc: resetting rate limit", "error", err)
		}
	}

	successURL := h.SuccessURL
	if successURL == "" {
		successURL = "/"
	}
	http.Redirect(w, r, successURL, http.StatusFound)
}

// HandleLogout clears the session cookie.
func (h *OIDCFlowHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessionMgr.ClearCookie(w)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// syncGroups ensures the caller belongs to an idp_managed team for each
// group in the token's groups claim, creating the team on first sight.
// It only adds memberships: when a group is later dropped from the claim,
// the user's existing membership in that team is left in place, and no
// other code path removes it.
func (h *OIDCFlowHandler) syncGroups(ctx context.Context, userID uuid.UUID, groups []string) error {
	for _, name := range groups {
		team, err := h.queries.GetTeamByName(ctx, name)
		if err != nil {
			team, err = h.queries.CreateTeam(ctx, name, true)
			if err != nil {
				return fmt.Errorf("creating idp-managed team %q: %w", name, err)
			}
		}
		if !team.IdpManaged {
			continue
		}
		if err := h.queries.SetTeamMember(ctx, team.ID, userID, "member"); err != nil {
			return fmt.Errorf("adding member to team %q: %w", name, err)
		}
	}
	return nil
}

// recordFailure records a failed callback attempt against ip for rate
// limiting. Errors are logged, not surfaced, since a failing rate limiter
// must never block reporting the real authentication error to the caller.
func (h *OIDCFlowHandler) recordFailure(ctx context.Context, ip string) {
	if h.rateLimiter == nil {
		return
	}
	if err := h.rateLimiter.Record(ctx, ip); err != nil {
		h.logger.Error("oidc: recording rate limit failure", "error", err)
	}
}

func oidcStateKey(state string) string {
	return "oidc_state:" + state
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
