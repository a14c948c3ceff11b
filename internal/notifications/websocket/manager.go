package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/notifications"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

var (
	ErrNotConnected = errors.New("validator not connected")
	ErrBufferFull   = errors.New("connection buffer full")
	ErrClosed       = errors.New("websocket manager closed")
)

// Manager tracks validator socket connections and pushes notifications to
// them. Connection channels are only closed under mu.Lock so senders holding
// mu.RLock never write to a closed channel.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	closeOnce   sync.Once
}

// Connection is one validator socket
type Connection struct {
	ID          string
	Address     string
	Conn        *websocket.Conn
	Send        chan notifications.WebSocketMessage
	ConnectedAt time.Time
	RemoteAddr  string
}

// Hub serializes connection bookkeeping and broadcasts
type Hub struct {
	broadcast  chan notifications.WebSocketMessage
	register   chan *Connection
	unregister chan *Connection
	stop       chan struct{}
	done       chan struct{}
}

// NewManager creates a manager and starts its hub
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	m := &Manager{
		connections: make(map[string]*Connection),
		hub: &Hub{
			broadcast:  make(chan notifications.WebSocketMessage, 256),
			register:   make(chan *Connection),
			unregister: make(chan *Connection),
			stop:       make(chan struct{}),
			done:       make(chan struct{}),
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
	go m.run()
	return m
}

// originChecker allows every origin when none are configured
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleConnection upgrades the request and registers the socket for address
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, address string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Address:     address,
		Conn:        conn,
		Send:        make(chan notifications.WebSocketMessage, sendBuffer),
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, ErrClosed
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump drains client frames until the socket fails, answering presence
// pings with the connection id
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Websocket read failed",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
			}
			return
		}
		if msg.Type == notifications.WSMessageTypePresence {
			m.reply(conn, statusMessage(conn))
		}
	}
}

// writePump owns all writes to the socket. It exits when Send is closed.
func (m *Manager) writePump(conn *Connection) {
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
			if err := conn.Conn.WriteJSON(message); err != nil {
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

func statusMessage(conn *Connection) notifications.WebSocketMessage {
	data, _ := json.Marshal(map[string]string{"status": "connected", "connection_id": conn.ID})
	return notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeStatus,
		Data:      data,
		Timestamp: time.Now(),
		Channel:   "private",
		Target:    conn.Address,
	}
}

func (m *Manager) reply(conn *Connection, msg notifications.WebSocketMessage) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.connections[conn.ID]; !ok {
		return
	}
	select {
	case conn.Send <- msg:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.hub.done)
	for {
		select {
		case conn := <-m.hub.register:
			m.mu.Lock()
			m.connections[conn.ID] = conn
			m.mu.Unlock()
			m.logger.Info("Validator connected",
				zap.String("connection_id", conn.ID),
				zap.String("validator", conn.Address))

		case conn := <-m.hub.unregister:
			if m.remove(conn) {
				m.logger.Info("Validator disconnected",
					zap.String("connection_id", conn.ID),
					zap.String("validator", conn.Address))
			}

		case message := <-m.hub.broadcast:
			var slow []*Connection
			m.mu.RLock()
			for _, conn := range m.connections {
				select {
				case conn.Send <- message:
				default:
					slow = append(slow, conn)
				}
			}
			m.mu.RUnlock()
			for _, conn := range slow {
				m.remove(conn)
			}

		case <-m.hub.stop:
			m.mu.Lock()
			for id, conn := range m.connections {
				delete(m.connections, id)
				close(conn.Send)
				conn.Conn.Close()
			}
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) remove(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[conn.ID]; !ok {
		return false
	}
	delete(m.connections, conn.ID)
	close(conn.Send)
	return true
}

// SendToValidator queues message on every connection of address
func (m *Manager) SendToValidator(address string, message notifications.WebSocketMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	message.Target = address
	queued, found := 0, false
	for _, conn := range m.connections {
		if conn.Address != address {
			continue
		}
		found = true
		select {
		case conn.Send <- message:
			queued++
		default:
		}
	}

	switch {
	case !found:
		return ErrNotConnected
	case queued == 0:
		return ErrBufferFull
	}
	return nil
}

// Send implements notifications.Transport
func (m *Manager) Send(ctx context.Context, n notifications.ValidatorNotification, to notifications.Recipient) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return m.SendToValidator(to.Address, notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeNotification,
		Data:      data,
		Timestamp: time.Now(),
		Channel:   "private",
	})
}

// Broadcast queues message for every connection
func (m *Manager) Broadcast(message notifications.WebSocketMessage) error {
	message.Channel = "broadcast"
	message.Target = "all"
	select {
	case <-m.hub.done:
		return ErrClosed
	default:
	}
	select {
	case m.hub.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// ConnectionCount returns the number of open sockets
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// IsConnected reports whether address has at least one open socket
func (m *Manager) IsConnected(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.connections {
		if conn.Address == address {
			return true
		}
	}
	return false
}

// Close disconnects every socket and stops the hub
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.hub.stop)
		<-m.hub.done
	})
}
