package api

import (
	"net/http"
	"strings"

	"github.com/risedotdev/rise/internal/httpserver"
)

// handleIngressVerify is the subrequest target for the nginx auth-url
// annotation (§4.2/§4.4 point 2) written by k8s.DefaultAccessPolicies onto
// authenticated-user and project-member ingresses. It is mounted outside
// the platform-session/workload-identity auth chain — the ingress
// application JWT it checks is a distinct token plane, verifiable by
// deployed applications themselves via JWKS discovery.
func (h *Handler) HandleIngressVerify(w http.ResponseWriter, r *http.Request) {
	if h.ingressIssuer == nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "ingress verification not configured")
		return
	}

	token := ingressBearerToken(r)
	if token == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing ingress token")
		return
	}

	audience := r.Header.Get("X-Original-URL")
	if audience == "" {
		audience = originalHost(r) + r.URL.Path
	}

	claims, err := h.ingressIssuer.Verify(token, audience)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid ingress token")
		return
	}

	w.Header().Set("X-Rise-Subject", claims.ProjectID)
	w.Header().Set("X-Rise-Project-Role", "member")
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

const ingressCookieName = "rise_ingress"

func ingressBearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(ingressCookieName); err == nil {
		return c.Value
	}
	return ""
}

func originalHost(r *http.Request) string {
	if h := r.Header.Get("X-Original-Host"); h != "" {
		return h
	}
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		return h
	}
	return r.Host
}
