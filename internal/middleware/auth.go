package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/store"
)

// RequireAuth verifies the bearer token, loads the account and stores its
// AuthContext on the request. Browsers cannot set headers on WebSocket
// upgrades, so a token query parameter is accepted as well.
func RequireAuth(tokens *auth.Tokens, accounts *store.AccountStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing access token")
				return
			}

			accountID, err := tokens.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid access token")
				return
			}

			account, err := accounts.GetByID(r.Context(), accountID)
			if err != nil {
				logger.Error("load account", "account_id", accountID, "error", err)
				writeError(w, http.StatusInternalServerError, "StoreUnavailable", "could not load account")
				return
			}
			if account == nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "account no longer exists")
				return
			}

			ac := auth.AuthContext{AccountID: account.ID}
			if account.CoupleID != nil {
				ac.CoupleID = *account.CoupleID
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
