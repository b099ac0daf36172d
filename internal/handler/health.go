package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

type HealthHandler struct {
	db         *sql.DB
	vapidReady bool
}

func NewHealthHandler(db *sql.DB, vapidReady bool) *HealthHandler {
	return &HealthHandler{db: db, vapidReady: vapidReady}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status":   http.StatusText(status),
		"database": dbStatus,
		"push":     h.vapidReady,
	})
}
