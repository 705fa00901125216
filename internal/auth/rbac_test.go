package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/risedotdev/rise/internal/db"
)

func TestRequireAuth(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("rejects unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		RequireAuth(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("passes authenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := NewContext(r.Context(), &Identity{Subject: "user"})
		r = r.WithContext(ctx)
		w := httptest.NewRecorder()

		RequireAuth(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func TestRequirePlatformUser(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		identity *Identity
		wantCode int
	}{
		{"platform user passes", &Identity{IsPlatformUser: true}, http.StatusOK},
		{"service account rejected", &Identity{IsPlatformUser: false}, http.StatusForbidden},
		{"no identity rejected", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.identity != nil {
				r = r.WithContext(NewContext(r.Context(), tt.identity))
			}
			w := httptest.NewRecorder()

			RequirePlatformUser(okHandler).ServeHTTP(w, r)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthorizer_CanManageProject(t *testing.T) {
	az := NewAuthorizer(nil)
	userID := uuid.New()
	otherID := uuid.New()
	saProjectID := uuid.New()

	project := db.Project{
		ID:          uuid.New(),
		OwnerUserID: pgtype.UUID{Bytes: userID, Valid: true},
	}

	tests := []struct {
		name string
		id   *Identity
		want bool
	}{
		{"platform admin bypasses ownership", &Identity{IsPlatformUser: true}, true},
		{"owner may manage", &Identity{UserID: &userID}, true},
		{"non-owner rejected", &Identity{UserID: &otherID}, false},
		{"service account for its own project", &Identity{ServiceAccountID: &saProjectID, ProjectID: &project.ID}, true},
		{"service account for a different project", &Identity{ServiceAccountID: &saProjectID, ProjectID: &otherID}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := az.CanManageProject(context.Background(), tt.id, project)
			if err != nil {
				t.Fatalf("CanManageProject: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanManageProject() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorizer_CanAdministerProject_OwnerUser(t *testing.T) {
	az := NewAuthorizer(nil)
	userID := uuid.New()
	otherID := uuid.New()

	project := db.Project{
		ID:          uuid.New(),
		OwnerUserID: pgtype.UUID{Bytes: userID, Valid: true},
	}

	got, err := az.CanAdministerProject(context.Background(), &Identity{UserID: &userID}, project)
	if err != nil {
		t.Fatalf("CanAdministerProject: %v", err)
	}
	if !got {
		t.Error("expected project owner to administer")
	}

	got, err = az.CanAdministerProject(context.Background(), &Identity{UserID: &otherID}, project)
	if err != nil {
		t.Fatalf("CanAdministerProject: %v", err)
	}
	if got {
		t.Error("expected non-owner to be rejected")
	}
}
