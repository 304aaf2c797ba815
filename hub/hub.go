// Package hub provides connection management and per-conversation fan-out
// for WebSocket clients.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection represents a single WebSocket connection.
type Connection struct {
	ID             string
	ConversationID string
	Conn           *websocket.Conn
	Send           chan []byte
	mu             sync.Mutex
}

// Hub manages all WebSocket connections, indexed by the conversation they
// subscribed to.
type Hub struct {
	connections map[string]*Connection

	// conversations maps conversation id to set of connection IDs
	conversations map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *conversationMessage

	mu sync.RWMutex
}

type conversationMessage struct {
	ConversationID string
	Data           []byte
}

// New creates a new Hub.
func New() *Hub {
	return &Hub{
		connections:   make(map[string]*Connection),
		conversations: make(map[string]map[string]bool),
		register:      make(chan *Connection),
		unregister:    make(chan *Connection),
		broadcast:     make(chan *conversationMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.ConversationID != "" {
				if h.conversations[conn.ConversationID] == nil {
					h.conversations[conn.ConversationID] = make(map[string]bool)
				}
				h.conversations[conn.ConversationID][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("Connection registered: %s (conversation: %s)", conn.ID, conn.ConversationID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbindLocked(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.conversations[msg.ConversationID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- msg.Data:
						default:
							// Buffer full, close the connection
							log.Printf("Connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection bound to this hub.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Join subscribes a connection to a conversation's event stream, leaving
// any previously joined conversation.
func (h *Hub) Join(conn *Connection, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unbindLocked(conn)

	conn.ConversationID = conversationID
	if h.conversations[conversationID] == nil {
		h.conversations[conversationID] = make(map[string]bool)
	}
	h.conversations[conversationID][conn.ID] = true
}

// unbindLocked removes a connection from its current conversation. Caller
// must hold h.mu.
func (h *Hub) unbindLocked(conn *Connection) {
	if conn.ConversationID == "" || h.conversations[conn.ConversationID] == nil {
		return
	}
	delete(h.conversations[conn.ConversationID], conn.ID)
	if len(h.conversations[conn.ConversationID]) == 0 {
		delete(h.conversations, conn.ConversationID)
	}
}

// Broadcast sends a message to all subscribers of a conversation.
func (h *Hub) Broadcast(conversationID string, data []byte) {
	h.broadcast <- &conversationMessage{
		ConversationID: conversationID,
		Data:           data,
	}
}

// BroadcastJSON sends a JSON message to all subscribers of a conversation.
func (h *Hub) BroadcastJSON(conversationID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(conversationID, data)
	return nil
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// Shutdown force-closes every connection's socket. Read pumps observe
// the closed sockets and unregister through the normal path.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if conn.Conn != nil {
			conn.Close()
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ConversationCount returns the number of conversations with subscribers.
func (h *Hub) ConversationCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations)
}

// HasSubscribers checks if a conversation has any active connections.
func (h *Hub) HasSubscribers(conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs, ok := h.conversations[conversationID]
	return ok && len(connIDs) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
