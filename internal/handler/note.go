package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/store"
	"github.com/dukerupert/twogether/internal/websocket"
)

const notePreviewLength = 80

type NoteHandler struct {
	notes    *store.NoteStore
	accounts *store.AccountStore
	notifier Notifier
	hub      Broadcaster
	logger   *slog.Logger
}

func NewNoteHandler(ns *store.NoteStore, as *store.AccountStore, n Notifier, hub Broadcaster, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{notes: ns, accounts: as, notifier: n, hub: hub, logger: logger.With("component", "notes")}
}

type noteRequest struct {
	Content string `json:"content"`
	Pinned  bool   `json:"pinned"`
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= notePreviewLength {
		return s
	}
	return string(r[:notePreviewLength]) + "…"
}

// List handles GET /notes
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	if coupleID == 0 {
		writeJSON(w, http.StatusOK, []model.Note{})
		return
	}
	notes, err := h.notes.List(r.Context(), coupleID)
	if err != nil {
		h.logger.Error("list notes", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to list notes")
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// Create handles POST /notes
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.CoupleID == 0 {
		writeError(w, http.StatusConflict, codeNotPaired, "pair with your partner first")
		return
	}

	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "content is required")
		return
	}

	note, err := h.notes.Create(r.Context(), ac.CoupleID, ac.AccountID, req.Content, req.Pinned)
	if err != nil {
		h.logger.Error("create note", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to create note")
		return
	}

	h.hub.Broadcast(ac.CoupleID, websocket.NewMessage("note", "created", note.ID, nil))
	h.notifier.Notify(push.Event{
		CoupleID:     ac.CoupleID,
		OriginatorID: ac.AccountID,
		Kind:         model.NotifTypeNoteCreated,
		Title:        fmt.Sprintf("Note from %s", displayName(r.Context(), h.accounts, ac.AccountID)),
		Body:         preview(note.Content),
		URL:          "/notes",
		Tag:          fmt.Sprintf("note-%d", note.ID),
	})

	writeJSON(w, http.StatusCreated, note)
}

// Update handles PUT /notes/{id}
func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "content is required")
		return
	}

	note, err := h.notes.Update(r.Context(), coupleID, id, req.Content, req.Pinned)
	if err != nil {
		h.logger.Error("update note", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to update note")
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "note not found")
		return
	}

	h.hub.Broadcast(coupleID, websocket.NewMessage("note", "updated", id, nil))
	writeJSON(w, http.StatusOK, note)
}

// Delete handles DELETE /notes/{id}
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	ok, err := h.notes.Delete(r.Context(), coupleID, id)
	if err != nil {
		h.logger.Error("delete note", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to delete note")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "note not found")
		return
	}

	h.hub.Broadcast(coupleID, websocket.NewMessage("note", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
