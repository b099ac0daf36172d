package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/store"
	"github.com/dukerupert/twogether/internal/websocket"
)

// Error codes returned in the "error" field of JSON error bodies.
const (
	codeInvalidRequest      = "InvalidRequest"
	codeUnauthorized        = "Unauthorized"
	codeNotFound            = "NotFound"
	codeConflict            = "Conflict"
	codeStoreUnavailable    = "StoreUnavailable"
	codeAlreadyPaired       = "AlreadyPaired"
	codeNotPaired           = "NotPaired"
	codeInvalidCode         = "InvalidCode"
	codeTenantFull          = "TenantFull"
	codeInvalidSubscription = "InvalidSubscription"
	codeNoSubscription      = "NoSubscription"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Notifier receives notification-worthy events. *push.Dispatcher satisfies it.
type Notifier interface {
	Notify(ev push.Event)
}

// Broadcaster publishes live updates to a couple's open clients.
// *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(coupleID int64, msg websocket.Message)
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// isMember reports whether accountID belongs to coupleID.
func isMember(ctx context.Context, accounts *store.AccountStore, coupleID, accountID int64) (bool, error) {
	a, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	return a != nil && a.CoupleID != nil && *a.CoupleID == coupleID, nil
}

// displayName returns the account's name for notification text.
func displayName(ctx context.Context, accounts *store.AccountStore, accountID int64) string {
	a, err := accounts.GetByID(ctx, accountID)
	if err != nil || a == nil || a.Name == "" {
		return "Your partner"
	}
	return a.Name
}
