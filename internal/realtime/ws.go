package realtime

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"bus-tracker/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	authWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Handler serves GET /ws?bus=<bus>. The token comes from the query string,
// the Authorization header or a first {"type":"auth"} message.
func (h *Hub) Handler(tokens *auth.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bus := strings.TrimSpace(r.URL.Query().Get("bus"))
		if bus == "" {
			http.Error(w, `{"error":"bus is required"}`, http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws: upgrade failed: %v", err)
			return
		}

		token := auth.TokenFromRequest(r)
		if token == "" {
			_ = conn.SetReadDeadline(time.Now().Add(authWait))
			var msg authMessage
			if err := conn.ReadJSON(&msg); err != nil || msg.Type != "auth" {
				closeWith(conn, "auth required")
				return
			}
			token = msg.Token
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			closeWith(conn, "invalid token")
			return
		}

		c := NewClient(bus, claims.Subject(), conn)
		h.Register(c)
		_ = conn.WriteJSON(map[string]string{"status": "subscribed", "bus": bus})

		go h.writePump(c)
		h.readPump(c)
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}

// readPump only services pongs and close frames; clients do not send data.
func (h *Hub) readPump(c *Client) {
	defer func() {
		h.Unregister(c)
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(4096)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: client %s read: %v", c.ID, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
