package handlers

import (
	"net/http"
	"time"

	"escrow-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer in front.
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// WebSocketHandler upgrades clients onto the push service so they receive
// settlement events for their tasks live.
type WebSocketHandler struct {
	push *services.WebSocketPushService
	log  *logrus.Entry
}

// NewWebSocketHandler creates the websocket handler.
func NewWebSocketHandler(push *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{
		push: push,
		log:  logrus.WithField("component", "ws_handler"),
	}
}

// Subscribe upgrades the connection and registers it for the caller.
func (h *WebSocketHandler) Subscribe(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user identity required"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := &services.Connection{
		ID:       uuid.New().String(),
		UserID:   uid,
		Conn:     wsConn,
		Send:     make(chan []byte, 64),
		LastPing: time.Now(),
	}
	h.push.RegisterConnection(conn)

	go h.writeLoop(conn)
	go h.readLoop(conn)
}

func (h *WebSocketHandler) writeLoop(conn *services.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(conn *services.Connection) {
	defer h.push.UnregisterConnection(conn)

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.LastPing = time.Now()
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
