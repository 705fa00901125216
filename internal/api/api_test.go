package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/risedotdev/rise/internal/auth"
)

// withIdentity attaches a platform-user identity to the request context so
// handlers that call auth.FromContext without a nil check don't panic.
func withIdentity(r *http.Request, id *auth.Identity) *http.Request {
	return r.WithContext(auth.NewContext(r.Context(), id))
}

var platformUser = &auth.Identity{Subject: "user-1", IsPlatformUser: true}

func TestCreateProject_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing name", `{"access_class":"public"}`, http.StatusUnprocessableEntity},
		{"name too short", `{"name":"a","access_class":"public"}`, http.StatusUnprocessableEntity},
		{"invalid access_class", `{"name":"demo","access_class":"whenever"}`, http.StatusUnprocessableEntity},
		{"invalid JSON", `{bad}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	h := &Handler{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			r = withIdentity(r, platformUser)
			w := httptest.NewRecorder()

			h.handleCreateProject(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestCreateDeployment_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing deployment_group", `{"http_port":8080}`, http.StatusUnprocessableEntity},
		{"missing http_port", `{"deployment_group":"default"}`, http.StatusUnprocessableEntity},
		{"port out of range", `{"deployment_group":"default","http_port":99999}`, http.StatusUnprocessableEntity},
		{"invalid JSON", `{bad}`, http.StatusBadRequest},
	}

	h := &Handler{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/projects/demo/deployments", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			r = withIdentity(r, platformUser)
			w := httptest.NewRecorder()

			h.handleCreateDeployment(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestSetEnvVar_Validation(t *testing.T) {
	h := &Handler{}

	router := chi.NewRouter()
	router.Put("/env/{key}", h.handleSetEnvVar)

	r := httptest.NewRequest(http.MethodPut, "/env/DATABASE_URL", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	r = withIdentity(r, platformUser)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestCreateServiceAccount_ForbiddenForWorkloadIdentity(t *testing.T) {
	h := &Handler{}

	said := uuid.New()
	caller := &auth.Identity{Subject: "ci", ServiceAccountID: &said}

	r := httptest.NewRequest(http.MethodPost, "/projects/demo/workload-identities", strings.NewReader(`{}`))
	r = withIdentity(r, caller)
	w := httptest.NewRecorder()

	h.handleCreateServiceAccount(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusForbidden, w.Body.String())
	}
}

func TestCreateServiceAccount_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing identifier", `{"issuer_url":"https://token.actions.githubusercontent.com","claims":{"repo":"rise/app"}}`, http.StatusUnprocessableEntity},
		{"missing issuer_url", `{"identifier":"ci","claims":{"repo":"rise/app"}}`, http.StatusUnprocessableEntity},
		{"invalid issuer_url", `{"identifier":"ci","issuer_url":"not-a-url","claims":{"repo":"rise/app"}}`, http.StatusUnprocessableEntity},
		{"missing claims", `{"identifier":"ci","issuer_url":"https://token.actions.githubusercontent.com"}`, http.StatusUnprocessableEntity},
	}

	h := &Handler{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/projects/demo/workload-identities", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			r = withIdentity(r, platformUser)
			w := httptest.NewRecorder()

			h.handleCreateServiceAccount(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestCreateExtension_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing name", `{"extension_type":"postgres","spec":{}}`, http.StatusUnprocessableEntity},
		{"missing extension_type", `{"name":"db","spec":{}}`, http.StatusUnprocessableEntity},
		{"missing spec", `{"name":"db","extension_type":"postgres"}`, http.StatusUnprocessableEntity},
		{"invalid JSON", `{bad}`, http.StatusBadRequest},
	}

	h := &Handler{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/projects/demo/extensions", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			r = withIdentity(r, platformUser)
			w := httptest.NewRecorder()

			h.handleCreateExtension(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestParseUUIDParam_Invalid(t *testing.T) {
	h := &Handler{}

	router := chi.NewRouter()
	router.Get("/deployments/{id}", h.handleGetDeployment)

	r := httptest.NewRequest(http.MethodGet, "/deployments/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	h := &Handler{}

	r := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	w := httptest.NewRecorder()

	h.handleMe(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
