package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatwave/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
)

// handleWebsocket streams change events to the client. Browsers cannot
// set an Authorization header on the handshake, so the session token
// comes in as a query parameter, along with optional table and
// conversation filters.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotImplemented, "realtime not configured")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	user, ok := s.app.UserFromToken(r.Context(), token)
	if !ok {
		s.audit(r, "ws.authorize", "fail", "reason", "invalid_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	filter := realtime.Filter{
		ConversationID: strings.TrimSpace(r.URL.Query().Get("conversationId")),
	}
	if tables := strings.TrimSpace(r.URL.Query().Get("tables")); tables != "" {
		filter.Tables = make(map[string]bool)
		for _, t := range strings.Split(tables, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Tables[t] = true
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err, "user_id", user.ID)
		return
	}
	sub := s.hub.Subscribe(filter)

	go s.writeEvents(conn, sub)

	// Read loop: the client sends nothing meaningful, but reading is
	// what surfaces disconnects and pong frames.
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	sub.Close()
	_ = conn.Close()
}

func (s *Server) writeEvents(conn *websocket.Conn, sub *realtime.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				sub.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		}
	}
}
