package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/database"
	"github.com/dukerupert/twogether/internal/store"
)

func setupAuthMiddleware(t *testing.T) (*auth.Tokens, *store.AccountStore, *store.CoupleStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return auth.NewTokens("test-secret", time.Hour), store.NewAccountStore(db), store.NewCoupleStore(db)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuthMissingToken(t *testing.T) {
	tokens, accounts, _ := setupAuthMiddleware(t)

	handler := RequireAuth(tokens, accounts, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/pairing/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	tokens, accounts, _ := setupAuthMiddleware(t)

	handler := RequireAuth(tokens, accounts, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	for _, h := range []string{"Bearer nope", "Basic abc", "Bearer " + mustIssue(t, auth.NewTokens("other", time.Hour), 1)} {
		req := httptest.NewRequest("GET", "/pairing/me", nil)
		req.Header.Set("Authorization", h)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: status = %d, want %d", h, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireAuthUnknownAccount(t *testing.T) {
	tokens, accounts, _ := setupAuthMiddleware(t)

	handler := RequireAuth(tokens, accounts, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/pairing/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, tokens, 999))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthResolvesCouple(t *testing.T) {
	tokens, accounts, couples := setupAuthMiddleware(t)
	ctx := context.Background()

	alice, _ := accounts.Create(ctx, "alice@example.com", "hash", "Alice", "")
	bob, _ := accounts.Create(ctx, "bob@example.com", "hash", "Bob", "")
	c, err := couples.CreateWithMember(ctx, alice.ID, "ABC123")
	if err != nil {
		t.Fatalf("create couple: %v", err)
	}

	var got auth.AuthContext
	handler := RequireAuth(tokens, accounts, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/pairing/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, tokens, alice.ID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.AccountID != alice.ID || got.CoupleID != c.ID {
		t.Errorf("auth context = %+v, want account %d couple %d", got, alice.ID, c.ID)
	}

	// Query parameter token, unpaired account.
	req = httptest.NewRequest("GET", "/ws?token="+mustIssue(t, tokens, bob.ID), nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.AccountID != bob.ID || got.CoupleID != 0 {
		t.Errorf("auth context = %+v, want account %d unpaired", got, bob.ID)
	}
}

func mustIssue(t *testing.T, tokens *auth.Tokens, accountID int64) string {
	t.Helper()
	raw, err := tokens.Issue(accountID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return raw
}
