// internal/handler/event_bus.go
package handler

import (
	"go.uber.org/zap"

	"cash-device-service/internal/hub"
	"cash-device-service/internal/model"
)

// listenerName maps an event type to the listener a client registers for
func listenerName(t model.EventType) string {
	switch t {
	case model.EventCoin:
		return "onCoin"
	case model.EventBill:
		return "onBill"
	case model.EventDispense:
		return "onDispense"
	case model.EventLifecycle:
		return "onLifecycle"
	case model.EventFault:
		return "onFault"
	default:
		return "onEvent"
	}
}

// EventBridge forwards hub events to WebSocket clients
type EventBridge struct {
	websocketHandler *WebSocketHandler
	logger           *zap.Logger
	cancel           func()
}

// NewEventBridge creates a new event bridge
func NewEventBridge(websocketHandler *WebSocketHandler, logger *zap.Logger) *EventBridge {
	return &EventBridge{
		websocketHandler: websocketHandler,
		logger:           logger.With(zap.String("component", "event-bridge")),
	}
}

// Attach subscribes the bridge to every event of h
func (b *EventBridge) Attach(h *hub.Hub) {
	id, cancel := h.Subscribe(nil, b.forward)
	b.cancel = cancel
	b.logger.Info("Event bridge attached", zap.String("subscription_id", id))
}

// Detach stops forwarding
func (b *EventBridge) Detach() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *EventBridge) forward(e model.DeviceEvent) {
	if e.Severity == model.SeverityCritical {
		b.logger.Warn("Critical device event",
			zap.String("device_id", e.DeviceID),
			zap.String("event_type", string(e.Type)),
			zap.Int("status_code", e.StatusCode),
			zap.String("message", e.Message),
		)
	}
	b.websocketHandler.BroadcastEvent(e)
}
