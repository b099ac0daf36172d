package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/pairing"
	"github.com/dukerupert/twogether/internal/websocket"
)

type PairingHandler struct {
	service *pairing.Service
	hub     Broadcaster
	logger  *slog.Logger
}

func NewPairingHandler(svc *pairing.Service, hub Broadcaster, logger *slog.Logger) *PairingHandler {
	return &PairingHandler{service: svc, hub: hub, logger: logger.With("component", "pairing_handler")}
}

// Create handles POST /pairing/create
func (h *PairingHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.CreateCouple(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		if errors.Is(err, pairing.ErrAlreadyPaired) {
			writeError(w, http.StatusConflict, codeAlreadyPaired, "you are already in a couple")
			return
		}
		h.logger.Error("create couple", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to create couple")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// RotateInvite handles POST /pairing/invite/rotate
func (h *PairingHandler) RotateInvite(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.RotateInviteCode(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		if errors.Is(err, pairing.ErrNotPaired) {
			writeError(w, http.StatusBadRequest, codeNotPaired, "you are not in a couple")
			return
		}
		h.logger.Error("rotate invite code", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to rotate invite code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invite_code": code})
}

type joinRequest struct {
	Code string `json:"code"`
}

// Join handles POST /pairing/join
func (h *PairingHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	accountID := auth.AccountID(r.Context())
	p, err := h.service.JoinCouple(r.Context(), accountID, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, pairing.ErrInvalidCode):
		writeError(w, http.StatusNotFound, codeInvalidCode, "invite code not found")
		return
	case errors.Is(err, pairing.ErrTenantFull):
		writeError(w, http.StatusBadRequest, codeTenantFull, "this couple already has two members")
		return
	case errors.Is(err, pairing.ErrAlreadyPaired):
		writeError(w, http.StatusBadRequest, codeAlreadyPaired, "you are already in a couple")
		return
	default:
		h.logger.Error("join couple", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to join couple")
		return
	}

	h.hub.Broadcast(p.CoupleID, websocket.NewMessage("couple", "joined", accountID, nil))
	writeJSON(w, http.StatusOK, map[string]int64{"couple_id": p.CoupleID})
}

// Me handles GET /pairing/me
func (h *PairingHandler) Me(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Describe(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("describe couple", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to load couple")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
