package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/store"
)

type PushHandler struct {
	dispatcher *push.Dispatcher
	pushStore  *store.PushStore
	publicKey  string
	logger     *slog.Logger
}

func NewPushHandler(d *push.Dispatcher, ps *store.PushStore, publicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{dispatcher: d, pushStore: ps, publicKey: publicKey, logger: logger.With("component", "push_handler")}
}

// PublicKey handles GET /push/public-key
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidSubscription, "invalid JSON")
		return
	}

	sub, err := h.dispatcher.Subscribe(r.Context(), ac.AccountID, push.SubscriptionInput{
		Endpoint:   req.Endpoint,
		P256dh:     req.Keys.P256dh,
		Auth:       req.Keys.Auth,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		if errors.Is(err, push.ErrInvalidSubscription) {
			writeError(w, http.StatusBadRequest, codeInvalidSubscription, err.Error())
			return
		}
		h.logger.Error("save push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Test handles POST /push/test
func (h *PushHandler) Test(w http.ResponseWriter, r *http.Request) {
	sent, err := h.dispatcher.SendTest(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		if errors.Is(err, push.ErrNoSubscription) {
			writeError(w, http.StatusNotFound, codeNoSubscription, "no push subscription for this account")
			return
		}
		h.logger.Error("send test notification", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to send test notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

// ListSubscriptions handles GET /push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByAccount(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	ok, err := h.dispatcher.Unsubscribe(r.Context(), auth.AccountID(r.Context()), id)
	if err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to delete subscription")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences handles GET /push/preferences. Every notification type is
// listed; types without a stored preference are enabled.
func (h *PushHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.pushStore.GetPreferences(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("get notification preferences", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to load preferences")
		return
	}

	out := make(map[string]bool, len(model.NotificationTypes))
	for _, t := range model.NotificationTypes {
		out[t] = true
	}
	for _, p := range prefs {
		out[p.NotificationType] = p.Enabled
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdatePreferences handles PUT /push/preferences with a {type: enabled} map.
func (h *PushHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req map[string]bool
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	for t := range req {
		if !slices.Contains(model.NotificationTypes, t) {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "unknown notification type: "+t)
			return
		}
	}

	accountID := auth.AccountID(r.Context())
	for t, enabled := range req {
		if err := h.pushStore.SetPreference(r.Context(), accountID, t, enabled); err != nil {
			h.logger.Error("set notification preference", "error", err)
			writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to save preferences")
			return
		}
	}
	h.GetPreferences(w, r)
}
