package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/store"
	"github.com/dukerupert/twogether/internal/websocket"
)

type WishlistHandler struct {
	wishlist *store.WishlistStore
	accounts *store.AccountStore
	notifier Notifier
	hub      Broadcaster
	logger   *slog.Logger
}

func NewWishlistHandler(ws *store.WishlistStore, as *store.AccountStore, n Notifier, hub Broadcaster, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{wishlist: ws, accounts: as, notifier: n, hub: hub, logger: logger.With("component", "wishlist")}
}

var validWishlistStatuses = map[string]bool{"idea": true, "bought": true, "gifted": true}

type wishlistRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	LinkURL     string `json:"link_url"`
	ImageURL    string `json:"image_url"`
	RecipientID *int64 `json:"recipient_id"`
	Status      string `json:"status"`
}

func validOptionalURL(s string) bool {
	if s == "" {
		return true
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *WishlistHandler) input(r *http.Request, coupleID int64, req wishlistRequest) (store.WishlistInput, string) {
	in := store.WishlistInput{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		LinkURL:     strings.TrimSpace(req.LinkURL),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		RecipientID: req.RecipientID,
		Status:      req.Status,
	}
	if in.Title == "" {
		return in, "title is required"
	}
	if in.Status == "" {
		in.Status = "idea"
	}
	if !validWishlistStatuses[in.Status] {
		return in, "status must be idea, bought or gifted"
	}
	if !validOptionalURL(in.LinkURL) || !validOptionalURL(in.ImageURL) {
		return in, "link_url and image_url must be http(s) URLs"
	}
	if in.RecipientID != nil {
		ok, err := isMember(r.Context(), h.accounts, coupleID, *in.RecipientID)
		if err != nil || !ok {
			return in, "recipient_id must be a member of your couple"
		}
	}
	return in, ""
}

// List handles GET /wishlist
func (h *WishlistHandler) List(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	if coupleID == 0 {
		writeJSON(w, http.StatusOK, []model.WishlistItem{})
		return
	}
	items, err := h.wishlist.List(r.Context(), coupleID)
	if err != nil {
		h.logger.Error("list wishlist", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to list wishlist")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Create handles POST /wishlist
func (h *WishlistHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.CoupleID == 0 {
		writeError(w, http.StatusConflict, codeNotPaired, "pair with your partner first")
		return
	}

	var req wishlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	in, msg := h.input(r, ac.CoupleID, req)
	if msg != "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, msg)
		return
	}

	item, err := h.wishlist.Create(r.Context(), ac.CoupleID, ac.AccountID, in)
	if err != nil {
		h.logger.Error("create wishlist item", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to create wishlist item")
		return
	}

	h.hub.Broadcast(ac.CoupleID, websocket.NewMessage("wishlist_item", "created", item.ID, nil))
	h.notifier.Notify(push.Event{
		CoupleID:     ac.CoupleID,
		OriginatorID: ac.AccountID,
		Kind:         model.NotifTypeWishlistCreated,
		Title:        "Wishlist updated",
		Body:         fmt.Sprintf("%s added %s to the wishlist", displayName(r.Context(), h.accounts, ac.AccountID), item.Title),
		URL:          "/wishlist",
		Tag:          fmt.Sprintf("wishlist-%d", item.ID),
	})

	writeJSON(w, http.StatusCreated, item)
}

// Update handles PUT /wishlist/{id}
func (h *WishlistHandler) Update(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	var req wishlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	in, msg := h.input(r, coupleID, req)
	if msg != "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, msg)
		return
	}

	item, err := h.wishlist.Update(r.Context(), coupleID, id, in)
	if err != nil {
		h.logger.Error("update wishlist item", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to update wishlist item")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "wishlist item not found")
		return
	}

	h.hub.Broadcast(coupleID, websocket.NewMessage("wishlist_item", "updated", id, nil))
	writeJSON(w, http.StatusOK, item)
}

// Delete handles DELETE /wishlist/{id}
func (h *WishlistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	ok, err := h.wishlist.Delete(r.Context(), coupleID, id)
	if err != nil {
		h.logger.Error("delete wishlist item", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to delete wishlist item")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "wishlist item not found")
		return
	}

	h.hub.Broadcast(coupleID, websocket.NewMessage("wishlist_item", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
