// internal/handler/websocket_types.go
package handler

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// allDevices subscribes a client to every device
const allDevices = "*"

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mu            sync.RWMutex
	subscriptions map[string]bool
	closed        bool
}

func newClient(id string, conn *websocket.Conn, userAgent, remoteAddr string, devices ...string) *Client {
	c := &Client{
		ID:            id,
		Connection:    conn,
		Send:          make(chan []byte, 256),
		UserAgent:     userAgent,
		RemoteAddr:    remoteAddr,
		ConnectedAt:   time.Now(),
		subscriptions: make(map[string]bool),
	}
	for _, d := range devices {
		c.subscriptions[d] = true
	}
	return c
}

// Subscribe adds deviceID to the client subscriptions
func (c *Client) Subscribe(deviceID string) {
	c.mu.Lock()
	c.subscriptions[deviceID] = true
	c.mu.Unlock()
}

// Unsubscribe removes deviceID. Unsubscribing from * drops every
// subscription.
func (c *Client) Unsubscribe(deviceID string) {
	c.mu.Lock()
	if deviceID == allDevices {
		c.subscriptions = make(map[string]bool)
	} else {
		delete(c.subscriptions, deviceID)
	}
	c.mu.Unlock()
}

// Wants reports whether events of deviceID go to this client
func (c *Client) Wants(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[allDevices] || c.subscriptions[deviceID]
}

// Subscriptions returns the subscribed device ids in order
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for d := range c.subscriptions {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// enqueue queues a frame without blocking. It reports false when the
// client is gone or too slow.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	DeviceID  string      `json:"device_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ClientMessage is a message sent by a client
type ClientMessage struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id,omitempty"`
	Command   string `json:"command,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{clients: make(map[string]*Client)}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	cm.clients[client.ID] = client
	cm.mutex.Unlock()
}

// Unregister removes a client and closes its send queue
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	_, ok := cm.clients[client.ID]
	delete(cm.clients, client.ID)
	cm.mutex.Unlock()
	if ok {
		client.close()
	}
}

// Subscribers returns the clients that want events of deviceID
func (cm *ConnectionManager) Subscribers(deviceID string) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var clients []*Client
	for _, client := range cm.clients {
		if client.Wants(deviceID) {
			clients = append(clients, client)
		}
	}
	return clients
}

// All returns every connected client
func (cm *ConnectionManager) All() []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	return clients
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByDevice:         make(map[string]int),
	}
	for _, client := range cm.clients {
		for _, d := range client.Subscriptions() {
			stats.ByDevice[d]++
		}
	}
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByDevice         map[string]int `json:"by_device"`
}
