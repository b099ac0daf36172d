package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/recurrence"
	"github.com/dukerupert/twogether/internal/store"
	"github.com/dukerupert/twogether/internal/websocket"
)

type ReminderHandler struct {
	reminders *store.ReminderStore
	accounts  *store.AccountStore
	notifier  Notifier
	hub       Broadcaster
	logger    *slog.Logger
}

func NewReminderHandler(rs *store.ReminderStore, as *store.AccountStore, n Notifier, hub Broadcaster, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{reminders: rs, accounts: as, notifier: n, hub: hub, logger: logger.With("component", "reminders")}
}

var (
	validReminderPriorities = map[string]bool{"normal": true, "important": true, "urgent": true}
	validReminderStatuses   = map[string]bool{"pending": true, "done": true}
)

type reminderRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssignedTo  *int64     `json:"assigned_to"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	RepeatRule  string     `json:"repeat_rule"`
}

// input validates req and converts it to a store input. It returns a
// client-facing message on failure.
func (h *ReminderHandler) input(r *http.Request, coupleID int64, req reminderRequest) (store.ReminderInput, string) {
	in := store.ReminderInput{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		AssignedTo:  req.AssignedTo,
		Priority:    req.Priority,
		Status:      req.Status,
		DueDate:     req.DueDate,
	}
	if in.Title == "" {
		return in, "title is required"
	}
	if in.Priority == "" {
		in.Priority = "normal"
	}
	if !validReminderPriorities[in.Priority] {
		return in, "priority must be normal, important or urgent"
	}
	if in.Status == "" {
		in.Status = "pending"
	}
	if !validReminderStatuses[in.Status] {
		return in, "status must be pending or done"
	}
	if strings.TrimSpace(req.RepeatRule) != "" {
		rule, err := recurrence.Parse(req.RepeatRule)
		if err != nil {
			return in, "invalid repeat_rule: " + err.Error()
		}
		if in.DueDate == nil {
			return in, "a repeating reminder needs a due_date"
		}
		in.RepeatRule = rule.String()
	}
	if in.AssignedTo != nil {
		ok, err := isMember(r.Context(), h.accounts, coupleID, *in.AssignedTo)
		if err != nil || !ok {
			return in, "assigned_to must be a member of your couple"
		}
	}
	return in, ""
}

// List handles GET /reminders
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	if coupleID == 0 {
		writeJSON(w, http.StatusOK, []model.Reminder{})
		return
	}
	reminders, err := h.reminders.List(r.Context(), coupleID)
	if err != nil {
		h.logger.Error("list reminders", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to list reminders")
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}

// Create handles POST /reminders
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.CoupleID == 0 {
		writeError(w, http.StatusConflict, codeNotPaired, "pair with your partner first")
		return
	}

	var req reminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	in, msg := h.input(r, ac.CoupleID, req)
	if msg != "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, msg)
		return
	}

	reminder, err := h.reminders.Create(r.Context(), ac.CoupleID, ac.AccountID, in)
	if err != nil {
		h.logger.Error("create reminder", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to create reminder")
		return
	}

	h.hub.Broadcast(ac.CoupleID, websocket.NewMessage("reminder", "created", reminder.ID, nil))
	h.notifier.Notify(push.Event{
		CoupleID:     ac.CoupleID,
		OriginatorID: ac.AccountID,
		Kind:         model.NotifTypeReminderCreated,
		Title:        "New reminder",
		Body:         fmt.Sprintf("%s added: %s", displayName(r.Context(), h.accounts, ac.AccountID), reminder.Title),
		URL:          "/reminders",
		Tag:          fmt.Sprintf("reminder-%d", reminder.ID),
	})

	writeJSON(w, http.StatusCreated, reminder)
}

// Update handles PUT /reminders/{id}
func (h *ReminderHandler) Update(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	var req reminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	in, msg := h.input(r, coupleID, req)
	if msg != "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, msg)
		return
	}

	reminder, err := h.reminders.Update(r.Context(), coupleID, id, in)
	if err != nil {
		h.logger.Error("update reminder", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to update reminder")
		return
	}
	if reminder == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "reminder not found")
		return
	}

	h.hub.Broadcast(coupleID, websocket.NewMessage("reminder", "updated", id, nil))
	writeJSON(w, http.StatusOK, reminder)
}

// Delete handles DELETE /reminders/{id}
func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	coupleID := auth.CoupleID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return
	}

	ok, err := h.reminders.Delete(r.Context(), coupleID, id)
	if err != nil {
		h.logger.Error("delete reminder", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to delete reminder")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "reminder not found")
		return
	}

	h.hub.Broadcast(coupleID, websocket.NewMessage("reminder", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
