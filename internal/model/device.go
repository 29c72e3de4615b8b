// internal/model/device.go
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceFamily identifies the protocol family a peripheral speaks
type DeviceFamily string

const (
	FamilyAzkoyen   DeviceFamily = "AZKOYEN"
	FamilyNV10      DeviceFamily = "NV10"
	FamilyDispenser DeviceFamily = "DISPENSER"
)

// ParseFamily maps a configuration value onto a DeviceFamily
func ParseFamily(s string) (DeviceFamily, bool) {
	switch DeviceFamily(strings.ToUpper(strings.TrimSpace(s))) {
	case FamilyAzkoyen, "PELICANO":
		return FamilyAzkoyen, true
	case FamilyNV10:
		return FamilyNV10, true
	case FamilyDispenser:
		return FamilyDispenser, true
	}
	return "", false
}

// Lifecycle is the coarse session state shared by every family
type Lifecycle string

const (
	LifecycleDisconnected Lifecycle = "DISCONNECTED"
	LifecycleConnecting   Lifecycle = "CONNECTING"
	LifecycleReady        Lifecycle = "READY"
	LifecycleReading      Lifecycle = "READING"
	LifecycleFaulted      Lifecycle = "FAULTED"
)

// IsLive reports whether the session owns an open transport
func (l Lifecycle) IsLive() bool {
	return l == LifecycleReady || l == LifecycleReading
}

// ConnectionType represents how the device is reached
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// Capability represents what a device can do
type Capability string

const (
	CapabilityCoinAcceptance Capability = "COIN_ACCEPTANCE"
	CapabilityBillAcceptance Capability = "BILL_ACCEPTANCE"
	CapabilityEscrow         Capability = "ESCROW"
	CapabilityChannelInhibit Capability = "CHANNEL_INHIBIT"
	CapabilityCardDispense   Capability = "CARD_DISPENSE"
	CapabilityCardRecycle    Capability = "CARD_RECYCLE"
	CapabilityStatus         Capability = "STATUS"
)

// FamilyCapabilities lists the capabilities of each family
var FamilyCapabilities = map[DeviceFamily][]Capability{
	FamilyAzkoyen:   {CapabilityCoinAcceptance, CapabilityChannelInhibit, CapabilityStatus},
	FamilyNV10:      {CapabilityBillAcceptance, CapabilityEscrow, CapabilityChannelInhibit, CapabilityStatus},
	FamilyDispenser: {CapabilityCardDispense, CapabilityCardRecycle, CapabilityStatus},
}

// Device represents a configured cash peripheral and its last known state
type Device struct {
	ID             uuid.UUID      `json:"id"`
	DeviceID       string         `json:"device_id"`
	Family         DeviceFamily   `json:"family"`
	ConnectionType ConnectionType `json:"connection_type"`
	Port           string         `json:"port,omitempty"`
	Capabilities   []Capability   `json:"capabilities"`
	Lifecycle      Lifecycle      `json:"lifecycle"`
	State          string         `json:"state"`
	LastStatusCode int            `json:"last_status_code"`
	LastMessage    string         `json:"last_message"`
	LastSeen       *time.Time     `json:"last_seen,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasCapability checks if device has a specific capability
func (d *Device) HasCapability(capability Capability) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// IsOnline checks if device currently holds a live session
func (d *Device) IsOnline() bool {
	return d.Lifecycle.IsLive()
}
