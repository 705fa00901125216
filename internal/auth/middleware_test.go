package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMiddleware_NoAuth(t *testing.T) {
	mw := Middleware(nil, nil, testLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["error"] != "unauthorized" {
		t.Errorf("error = %q, want %q", resp["error"], "unauthorized")
	}
}

func TestMiddleware_SessionCookie(t *testing.T) {
	sm, err := NewSessionManager("", "https://rise.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	userID := uuid.New()
	token, err := sm.IssueToken(userID.String(), SessionClaims{Email: "alice@example.com", Teams: []string{"platform"}})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	mw := Middleware(sm, nil, testLogger())

	var gotIdentity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotIdentity == nil {
		t.Fatal("expected identity in context")
	}
	if !gotIdentity.IsPlatformUser {
		t.Error("IsPlatformUser = false, want true for a session identity")
	}
	if gotIdentity.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", gotIdentity.Email, "alice@example.com")
	}
}

func TestMiddleware_UnrecognizedBearerToken(t *testing.T) {
	sm, err := NewSessionManager("", "https://rise.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	mw := Middleware(sm, nil, testLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-real-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
