package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"trafficcounter/internal/logger"
	ws "trafficcounter/internal/service/websocket"
)

// viewerReadLimit caps inbound viewer messages; viewers only listen.
const viewerReadLimit = 512

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler upgrades /api/view and keeps the connection in the
// hub until the viewer goes away. Stats pushes are written by the hub.
func ViewWebsocketHandler(hub *ws.HubService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("WebSocket upgrade error: %v", err)
			return
		}
		conn.SetReadLimit(viewerReadLimit)

		if !hub.Register(conn) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			conn.Close()
			return
		}
		defer hub.Unregister(conn)

		// Drain until the peer closes; inbound payloads are ignored.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("Viewer %s dropped: %v", r.RemoteAddr, err)
				}
				return
			}
		}
	}
}
