// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventCoin      EventType = "COIN"
	EventBill      EventType = "BILL"
	EventDispense  EventType = "DISPENSE"
	EventLifecycle EventType = "LIFECYCLE"
	EventFault     EventType = "FAULT"
)

// Severity classifies a status code band
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityOf maps a status code onto its band: 2xx/3xx info, 4xx warning, 5xx critical
func SeverityOf(code int) Severity {
	switch {
	case code >= 500:
		return SeverityCritical
	case code >= 400:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// DeviceEvent is one decoded device outcome delivered to subscribers
type DeviceEvent struct {
	ID         uuid.UUID    `json:"id"`
	Sequence   uint64       `json:"sequence"`
	Type       EventType    `json:"event_type"`
	DeviceID   string       `json:"device_id"`
	Family     DeviceFamily `json:"family"`
	StatusCode int          `json:"status_code"`
	Message    string       `json:"message"`
	Payload    interface{}  `json:"payload,omitempty"`
	Severity   Severity     `json:"severity"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewDeviceEvent stamps an event with an id, severity and timestamp
func NewDeviceEvent(deviceID string, family DeviceFamily, eventType EventType, code int, message string, payload interface{}) DeviceEvent {
	return DeviceEvent{
		ID:         uuid.New(),
		Type:       eventType,
		DeviceID:   deviceID,
		Family:     family,
		StatusCode: code,
		Message:    message,
		Payload:    payload,
		Severity:   SeverityOf(code),
		Timestamp:  time.Now(),
	}
}

// LifecycleChange is the payload of EventLifecycle events
type LifecycleChange struct {
	From  Lifecycle `json:"from"`
	To    Lifecycle `json:"to"`
	State string    `json:"state"`
}
