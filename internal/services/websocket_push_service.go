package services

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"escrow-backend/internal/metrics"
	"escrow-backend/internal/models"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering is handled by the CORS middleware
		return true
	},
}

// Connection one subscribed websocket client
type Connection struct {
	ID          string          `json:"id"`
	UserAddress string          `json:"user_address"`
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	LastPing    time.Time       `json:"last_ping"`
}

// PushMessage envelope pushed to subscribers
type PushMessage struct {
	Type      string              `json:"type"`
	Timestamp string              `json:"timestamp"`
	MessageID string              `json:"message_id"`
	Event     *models.LedgerEvent `json:"event"`
}

// WebSocketPushService pushes ledger events to subscribed websocket
// clients. A client subscribed with a user address receives only that
// user's events; clients without a filter receive everything.
type WebSocketPushService struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewWebSocketPushService creates the push service
func NewWebSocketPushService() *WebSocketPushService {
	return &WebSocketPushService{
		connections: make(map[string]*Connection),
	}
}

// HandleConnection upgrades an HTTP request and pumps events until the
// client disconnects. userAddress may be empty for an unfiltered feed.
func (s *WebSocketPushService) HandleConnection(w http.ResponseWriter, r *http.Request, userAddress string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		UserAddress: strings.ToLower(userAddress),
		Conn:        conn,
		Send:        make(chan []byte, 64),
		LastPing:    time.Now(),
	}

	s.register(connection)
	go s.writePump(connection)
	go s.readPump(connection)
}

// Publish implements EventSink: broadcast the event to every subscriber
// whose filter matches. Never blocks; slow clients are dropped.
func (s *WebSocketPushService) Publish(event *models.LedgerEvent) {
	push := PushMessage{
		Type:      event.Type,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.NewString(),
		Event:     event,
	}
	data, err := json.Marshal(push)
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal push message")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, connection := range s.connections {
		if connection.UserAddress != "" && connection.UserAddress != strings.ToLower(event.User) {
			continue
		}
		select {
		case connection.Send <- data:
			metrics.WebSocketMessagesPushed.Inc()
		default:
			logrus.WithField("connection_id", connection.ID).Warn("Dropping slow websocket client")
			go s.unregister(connection.ID)
		}
	}
}

func (s *WebSocketPushService) register(connection *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connection.ID] = connection
	metrics.WebSocketConnectionsActive.Set(float64(len(s.connections)))
	logrus.WithFields(logrus.Fields{
		"connection_id": connection.ID,
		"user_address":  connection.UserAddress,
	}).Info("WebSocket client connected")
}

func (s *WebSocketPushService) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connection, ok := s.connections[id]; ok {
		close(connection.Send)
		connection.Conn.Close()
		delete(s.connections, id)
		metrics.WebSocketConnectionsActive.Set(float64(len(s.connections)))
	}
}

func (s *WebSocketPushService) writePump(connection *Connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-connection.Send:
			if !ok {
				connection.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := connection.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.unregister(connection.ID)
				return
			}
		case <-ticker.C:
			if err := connection.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.unregister(connection.ID)
				return
			}
		}
	}
}

func (s *WebSocketPushService) readPump(connection *Connection) {
	defer s.unregister(connection.ID)
	connection.Conn.SetPongHandler(func(string) error {
		connection.LastPing = time.Now()
		return nil
	})
	for {
		if _, _, err := connection.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
