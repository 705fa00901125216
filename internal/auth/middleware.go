package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/risedotdev/rise/internal/httpserver"
)

// Middleware authenticates the caller and stores the resulting Identity in
// the request context.
//
// Precedence:
//  1. rise_session cookie or Authorization: Bearer <jwt> → platform session JWT.
//  2. Authorization: Bearer <jwt>, if not a session token → workload-identity
//     JWT, matched against registered service accounts.
//
// A request matching neither is rejected with 401.
func Middleware(sessionMgr *SessionManager, workloadAuth *WorkloadIdentityAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			rawToken := bearerToken(r)
			if rawToken == "" {
				if c, err := r.Cookie(CookieName); err == nil {
					rawToken = c.Value
				}
			}

			if rawToken != "" && sessionMgr != nil {
				if sub, claims, err := sessionMgr.ValidateToken(rawToken); err == nil {
					userID, parseErr := parseUUIDPtr(sub)
					if parseErr == nil {
						identity = &Identity{
							Subject:        sub,
							Email:          claims.Email,
							Teams:          claims.Teams,
							IsPlatformUser: true,
							UserID:         userID,
							Method:         MethodSession,
						}
						logger.Debug("authenticated via session", "sub", sub, "email", claims.Email)
					}
				}
			}

			if identity == nil && rawToken != "" && workloadAuth != nil {
				wid, err := workloadAuth.Authenticate(r.Context(), rawToken)
				switch {
				case err == nil:
					identity = wid
					logger.Debug("authenticated via workload identity", "sub", wid.Subject)
				case errors.Is(err, ErrAmbiguousClaims):
					logger.Warn("workload identity token matched multiple service accounts")
					httpserver.RespondError(w, http.StatusConflict, "ambiguous_claims", err.Error())
					return
				default:
					logger.Debug("workload identity authentication failed", "error", err)
				}
			}

			if identity == nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseUUIDPtr(s string) (*uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if strings.HasPrefix(h, "bearer ") {
		return strings.TrimPrefix(h, "bearer ")
	}
	return ""
}
