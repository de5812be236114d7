package realtime

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/warp/slot-admin/auth"
	"github.com/warp/slot-admin/generic"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler serves GET /ws/rooms/{id}.
type Handler struct {
	Hub      *Hub
	Verifier *auth.Verifier
	Logger   generic.Logger

	// CheckOrigin overrides the upgrader's origin check. Nil allows all
	// origins; CORS is enforced on the REST surface.
	CheckOrigin func(r *http.Request) bool
}

func NewHandler(hub *Hub, verifier *auth.Verifier, logger generic.Logger) *Handler {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &Handler{Hub: hub, Verifier: verifier, Logger: logger}
}

// ServeRoom upgrades the connection and streams the room's INSERT events.
// The token comes from the Authorization header or the token query
// parameter, and the actor must be allowed into operator chat.
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, `{"error":"room id required"}`, http.StatusBadRequest)
		return
	}

	actor, err := h.Verifier.Parse(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}
	if !auth.CanAccessOperatorChat(actor) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if h.CheckOrigin != nil {
				return h.CheckOrigin(r)
			}
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Printf("WS: upgrade failed for room %s: %v", roomID, err)
		return
	}

	client := NewClient(roomID, actor.ID)
	h.Hub.Register(client)

	go h.writePump(conn, client)
	h.readPump(conn, client)
}

// readPump drains control frames and detects disconnects. Clients do not
// send chat messages over the socket; writes go through the REST API.
func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.Hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
