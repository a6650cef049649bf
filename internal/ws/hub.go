package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

// Client represents a panel connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	sessionKey string
	send       chan []byte
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a new panel client.
func NewClient(hub *Hub, conn *websocket.Conn, sessionKey string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		sessionKey: sessionKey,
		send:       make(chan []byte, 256),
	}
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// SendMessage encodes and queues msg.
func (c *Client) SendMessage(msg model.PanelMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", msg.Command, err)
		return
	}
	c.Send(data)
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SessionKey returns the key of the session this client is attached to.
func (c *Client) SessionKey() string {
	return c.sessionKey
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub manages the panels attached to one session.
type Hub struct {
	sessionKey string
	clients    map[*Client]bool
	mu         sync.RWMutex

	// Callbacks
	onMessage func(client *Client, msg *model.PanelClientMessage)
	onClose   func()
}

// NewHub creates a new Hub for the given session.
func NewHub(sessionKey string) *Hub {
	return &Hub{
		sessionKey: sessionKey,
		clients:    make(map[*Client]bool),
	}
}

// SessionKey returns the session key for this hub.
func (h *Hub) SessionKey() string {
	return h.sessionKey
}

// SetOnMessage sets the callback for panel messages other than ping.
func (h *Hub) SetOnMessage(callback func(client *Client, msg *model.PanelClientMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = callback
}

// SetOnClose sets the callback for when all clients disconnect.
func (h *Hub) SetOnClose(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	onClose := h.onClose
	h.mu.Unlock()

	client.Close()

	if ok && clientCount == 0 && onClose != nil {
		onClose()
	}
}

// Broadcast sends raw data to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// Present broadcasts a panel message. It never blocks: a client whose
// buffer is full is dropped.
func (h *Hub) Present(msg model.PanelMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", msg.Command, err)
		return
	}
	h.Broadcast(data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage processes an incoming message from a client.
func (h *Hub) HandleMessage(client *Client, msg *model.PanelClientMessage) {
	h.mu.RLock()
	callback := h.onMessage
	h.mu.RUnlock()

	if callback != nil {
		callback(client, msg)
	}
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager manages one hub per session key.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// GetOrCreate returns an existing hub or creates a new one for the session.
func (m *HubManager) GetOrCreate(sessionKey string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionKey]; ok {
		return hub
	}

	hub := NewHub(sessionKey)
	m.hubs[sessionKey] = hub
	return hub
}

// Replace installs a new hub for the session, closing any previous one.
func (m *HubManager) Replace(sessionKey string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.hubs[sessionKey]; ok {
		old.Close()
	}
	hub := NewHub(sessionKey)
	m.hubs[sessionKey] = hub
	return hub
}

// Get returns the hub for the session, or nil if not found.
func (m *HubManager) Get(sessionKey string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[sessionKey]
}

// Remove closes and removes the hub for the session if it is still hub.
// A nil hub removes whatever hub is registered.
func (m *HubManager) Remove(sessionKey string, hub *Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.hubs[sessionKey]; ok && (hub == nil || current == hub) {
		current.Close()
		delete(m.hubs, sessionKey)
	}
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
