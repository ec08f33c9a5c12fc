package websocket

import (
	"context"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// MemberCheck reports whether the request's user may watch the family.
type MemberCheck func(ctx context.Context, familyID string) (bool, error)

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and runs them as Hub clients subscribed to ?familyId=.
func HandleWebSocket(hub *Hub, canWatch MemberCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID := r.URL.Query().Get("familyId")
		if familyID == "" {
			http.Error(w, "familyId is required", http.StatusBadRequest)
			return
		}

		ok, err := canWatch(r.Context(), familyID)
		if err != nil {
			logger.Error("websocket: membership check", "family_id", familyID, "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not a member of this family", http.StatusForbidden)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // Allow connections from any origin (household LAN)
		})
		if err != nil {
			logger.Warn("websocket: accept", "error", err)
			return
		}

		client := NewClient(hub, conn, familyID)
		client.Run(r.Context())
	}
}
