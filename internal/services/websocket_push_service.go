package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Connection is one live websocket subscriber.
type Connection struct {
	ID       string
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	LastPing time.Time
}

// PushMessage is the envelope written to websocket subscribers.
type PushMessage struct {
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	MessageID string                 `json:"message_id"`
	UserID    string                 `json:"user_id"`
	Data      map[string]interface{} `json:"data"`
}

// WebSocketPushService pushes settlement events to connected clients so
// they can follow their tasks without polling. It also satisfies Notifier,
// so it can sit behind the same fan-out as NATS.
type WebSocketPushService struct {
	connections map[string]*Connection
	userConns   map[string][]*Connection
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	mutex       sync.RWMutex
	log         *logrus.Entry
}

// NewWebSocketPushService starts the hub loop.
func NewWebSocketPushService() *WebSocketPushService {
	service := &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		log:         logrus.WithField("component", "ws_push"),
	}
	go service.run()
	return service
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)
		case conn := <-s.unregister:
			s.handleUnregister(conn)
		case message := <-s.hub:
			s.handleBroadcast(message)
		}
	}
}

// RegisterConnection adds a subscriber to the hub.
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	s.register <- conn
}

// UnregisterConnection removes a subscriber and closes its channel.
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	s.unregister <- conn
}

// Notify implements the settlement Notifier boundary: the event is pushed
// to every live connection of the recipient. Fire-and-forget.
func (s *WebSocketPushService) Notify(event string, recipient string, payload map[string]interface{}) {
	msg := PushMessage{
		Type:      event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.New().String(),
		UserID:    recipient,
		Data:      payload,
	}
	select {
	case s.hub <- msg:
	default:
		s.log.WithField("event", event).Warn("push hub full, dropping message")
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.userConns[conn.UserID] = append(s.userConns[conn.UserID], conn)

	s.log.WithFields(logrus.Fields{
		"user_id": conn.UserID,
		"conn_id": conn.ID,
	}).Info("websocket connection registered")
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)

	userConns := s.userConns[conn.UserID]
	for i, c := range userConns {
		if c.ID == conn.ID {
			s.userConns[conn.UserID] = append(userConns[:i], userConns[i+1:]...)
			break
		}
	}
	if len(s.userConns[conn.UserID]) == 0 {
		delete(s.userConns, conn.UserID)
	}

	close(conn.Send)
	if conn.Conn != nil {
		conn.Conn.Close()
	}

	s.log.WithFields(logrus.Fields{
		"user_id": conn.UserID,
		"conn_id": conn.ID,
	}).Info("websocket connection unregistered")
}

func (s *WebSocketPushService) handleBroadcast(msg PushMessage) {
	s.mutex.RLock()
	conns := append([]*Connection(nil), s.userConns[msg.UserID]...)
	s.mutex.RUnlock()

	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("failed to encode push message")
		return
	}
	for _, conn := range conns {
		select {
		case conn.Send <- data:
		default:
			// Slow consumer; drop rather than block the hub.
			s.log.WithField("conn_id", conn.ID).Warn("send buffer full, dropping push")
		}
	}
}

// ConnectionCount reports the number of live connections.
func (s *WebSocketPushService) ConnectionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}
