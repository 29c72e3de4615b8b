// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"cash-device-service/internal/model"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("not found")

// DeviceRepository defines device data access operations
type DeviceRepository interface {
	// CRUD operations
	Create(ctx context.Context, device *model.Device) error
	GetByDeviceID(ctx context.Context, deviceID string) (*model.Device, error)
	Update(ctx context.Context, device *model.Device) error
	UpdateLifecycle(ctx context.Context, deviceID string, lc model.Lifecycle, state string) error
	UpdateLastResult(ctx context.Context, deviceID string, code int, message string) error

	// Listing and filtering
	List(ctx context.Context, filter *DeviceFilter) ([]*model.Device, int, error)

	// Monitoring
	GetDeviceStats(ctx context.Context) (*DeviceStats, error)
}

// CommandRepository keeps a bounded in-memory trace of executed commands
type CommandRepository interface {
	Record(ctx context.Context, record *model.CommandRecord) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.CommandRecord, error)
	GetCommandStats(ctx context.Context, deviceID string) (*CommandStats, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// Filter structures

// DeviceFilter represents device listing filters
type DeviceFilter struct {
	Family    *model.DeviceFamily `json:"family,omitempty"`
	Lifecycle *model.Lifecycle    `json:"lifecycle,omitempty"`
	Page      int                 `json:"page"`
	PerPage   int                 `json:"per_page"`
}

// Statistics structures

// DeviceStats represents device statistics
type DeviceStats struct {
	TotalDevices   int                        `json:"total_devices"`
	OnlineDevices  int                        `json:"online_devices"`
	FaultedDevices int                        `json:"faulted_devices"`
	ByFamily       map[model.DeviceFamily]int `json:"by_family"`
	ByLifecycle    map[model.Lifecycle]int    `json:"by_lifecycle"`
}

// CommandStats represents command statistics for a device
type CommandStats struct {
	DeviceID    string                    `json:"device_id"`
	Total       int                       `json:"total"`
	Failed      int                       `json:"failed"`
	SuccessRate float64                   `json:"success_rate"`
	AvgDuration time.Duration             `json:"average_duration"`
	ByCommand   map[model.CommandName]int `json:"by_command"`
	ByCode      map[int]int               `json:"by_code"`
	LastCommand *time.Time                `json:"last_command,omitempty"`
}
