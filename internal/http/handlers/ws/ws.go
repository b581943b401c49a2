package ws

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/openscribe/scribe-service/internal/utils/jwt"
	"github.com/openscribe/scribe-service/internal/utils/response"
	"github.com/openscribe/scribe-service/internal/websocket"
)

// Handler upgrades the connection and registers the client for job and
// transcript events. Browsers cannot set an Authorization header on a
// WebSocket handshake, so the token rides in a query parameter.
func Handler(hub *websocket.Hub, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			slog.Warn("WebSocket connection attempted without token")
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("token required")))
			return
		}

		userID, err := jwt.ExtractUserIDFromToken(token, jwtSecret)
		if err != nil {
			slog.Warn("WebSocket connection attempted with invalid token", slog.String("error", err.Error()))
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("invalid token")))
			return
		}

		conn, err := websocket.Upgrade(w, r)
		if err != nil {
			slog.Error("Failed to upgrade WebSocket connection", slog.String("error", err.Error()))
			return
		}

		client := websocket.NewClient(conn, userID, hub)
		hub.Register(client)
		client.Start()

		slog.Info("WebSocket connection established", slog.String("user_id", userID))
	}
}
