package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/twogether/internal/auth"
)

// HandleWebSocket upgrades an authenticated, paired request and runs it as a
// client of the caller's couple.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coupleID := auth.CoupleID(r.Context())
		if coupleID == 0 {
			http.Error(w, "account is not paired", http.StatusConflict)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // clients authenticate with a bearer token, not cookies
		})
		if err != nil {
			hub.logger.Warn("accept websocket", "error", err)
			return
		}
		defer conn.CloseNow()

		hub.logger.Debug("client connected", "couple_id", coupleID, "account_id", auth.AccountID(r.Context()))
		NewClient(hub, conn, coupleID).Run(r.Context())
	}
}
