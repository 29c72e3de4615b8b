// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
	"cash-device-service/internal/service"
	"cash-device-service/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams device events and accepts commands over
// WebSocket
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	connections    *ConnectionManager
	deviceService  *service.DeviceService
	commandService *service.CommandService
	commands       map[string]commandEntry
	logger         *utils.ServiceLogger
}

type commandEntry struct {
	name model.CommandName
	fn   commandFunc
}

// NewWebSocketHandler creates a new WebSocket handler. An empty origin
// list or "*" accepts every origin.
func NewWebSocketHandler(
	deviceService *service.DeviceService,
	commandService *service.CommandService,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		connections:    NewConnectionManager(),
		deviceService:  deviceService,
		commandService: commandService,
		logger:         utils.NewServiceLogger(logger, "websocket-handler"),
	}
	h.commands = map[string]commandEntry{
		"connect":  {model.CommandConnect, commandService.Connect},
		"check":    {model.CommandCheckDevice, commandService.CheckDevice},
		"start":    {model.CommandStartReader, commandService.StartReader},
		"stop":     {model.CommandStopReader, commandService.StopReader},
		"reset":    {model.CommandResetDevice, commandService.ResetDevice},
		"clean":    {model.CommandCleanDevice, commandService.CleanDevice},
		"reject":   {model.CommandReject, commandService.Reject},
		"dispense": {model.CommandDispenseCard, commandService.DispenseCard},
		"recycle":  {model.CommandRecycleCard, commandService.RecycleCard},
		"end":      {model.CommandEndProcess, commandService.EndProcess},
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || allowed[0] == "*" {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.HandleEventConnection)
	router.GET("/devices/:id", h.HandleDeviceConnection)
}

// HandleEventConnection streams events of the devices listed in the
// device_id query parameter, or of every device when it is absent
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	devices := []string{allDevices}
	if q := c.Query("device_id"); q != "" {
		devices = strings.Split(q, ",")
	}
	h.serve(c, devices...)
}

// HandleDeviceConnection streams the events of one device
func (h *WebSocketHandler) HandleDeviceConnection(c *gin.Context) {
	deviceID := c.Param("id")
	if _, err := h.deviceService.Driver(deviceID); err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
		return
	}
	h.serve(c, deviceID)
}

func (h *WebSocketHandler) serve(c *gin.Context, devices ...string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), conn, c.Request.UserAgent(), c.Request.RemoteAddr, devices...)
	h.connections.Register(client)
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.Strings("devices", devices),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "welcome",
		Data:      gin.H{"client_id": client.ID, "subscriptions": client.Subscriptions()},
		Timestamp: time.Now(),
	})

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadLimit(4096)
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		return client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.Error(err), zap.String("client_id", client.ID))
			}
			return
		}

		var message ClientMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message")
			continue
		}
		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("WebSocket write error", zap.Error(err), zap.String("client_id", client.ID))
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *ClientMessage) {
	switch message.Type {
	case "subscribe":
		if message.DeviceID == "" {
			h.sendError(client, message.RequestID, "device_id is required")
			return
		}
		if message.DeviceID != allDevices {
			if _, err := h.deviceService.Driver(message.DeviceID); err != nil {
				h.sendError(client, message.RequestID, err.Error())
				return
			}
		}
		client.Subscribe(message.DeviceID)
		h.sendMessage(client, &WebSocketMessage{
			Type:      "subscribed",
			DeviceID:  message.DeviceID,
			Data:      gin.H{"subscriptions": client.Subscriptions()},
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	case "unsubscribe":
		client.Unsubscribe(message.DeviceID)
		h.sendMessage(client, &WebSocketMessage{
			Type:      "unsubscribed",
			DeviceID:  message.DeviceID,
			Data:      gin.H{"subscriptions": client.Subscriptions()},
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	case "command":
		go h.executeDeviceCommand(client, message)

	case "ping":
		h.sendMessage(client, &WebSocketMessage{Type: "pong", Timestamp: time.Now(), RequestID: message.RequestID})

	default:
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// executeDeviceCommand runs a device command and replies with its outcome
func (h *WebSocketHandler) executeDeviceCommand(client *Client, message *ClientMessage) {
	entry, ok := h.commands[message.Command]
	if !ok {
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown command: %s", message.Command))
		return
	}

	resp, err := entry.fn(context.Background(), message.DeviceID)
	if err != nil {
		h.sendError(client, message.RequestID, err.Error())
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:     "command_response",
		DeviceID: message.DeviceID,
		Data: utils.DeviceResult{
			DeviceID:   message.DeviceID,
			Command:    string(entry.name),
			StatusCode: resp.StatusCode,
			Message:    resp.Message,
			Severity:   resp.Severity(),
		},
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	if !client.enqueue(messageBytes) {
		h.logger.Warn("Client send queue full, dropping message", zap.String("client_id", client.ID))
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      gin.H{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// BroadcastEvent sends a device event to every client subscribed to its
// device
func (h *WebSocketHandler) BroadcastEvent(e model.DeviceEvent) {
	clients := h.connections.Subscribers(e.DeviceID)
	if len(clients) == 0 {
		return
	}

	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      listenerName(e.Type),
		DeviceID:  e.DeviceID,
		Data:      e,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range clients {
		if !client.enqueue(messageBytes) {
			h.logger.Warn("Client send queue full during broadcast",
				zap.String("client_id", client.ID),
				zap.Uint64("sequence", e.Sequence),
			)
		}
	}
}

// CloseAll disconnects every client
func (h *WebSocketHandler) CloseAll() {
	for _, client := range h.connections.All() {
		h.connections.Unregister(client)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
