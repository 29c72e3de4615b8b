// internal/repository/device_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

// deviceRepository implements DeviceRepository in memory
type deviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*model.Device
	logger  *zap.Logger
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(logger *zap.Logger) DeviceRepository {
	return &deviceRepository{
		devices: make(map[string]*model.Device),
		logger:  logger,
	}
}

// Create registers a new device
func (r *deviceRepository) Create(ctx context.Context, device *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.DeviceID]; exists {
		return fmt.Errorf("device %s already exists", device.DeviceID)
	}
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	stored := *device
	r.devices[device.DeviceID] = &stored

	r.logger.Info("Device created successfully", zap.String("device_id", device.DeviceID))
	return nil
}

// GetByDeviceID retrieves a copy of a device by its device ID
func (r *deviceRepository) GetByDeviceID(ctx context.Context, deviceID string) (*model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	out := *device
	return &out, nil
}

// Update replaces an existing device
func (r *deviceRepository) Update(ctx context.Context, device *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[device.DeviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", device.DeviceID, ErrNotFound)
	}
	stored := *device
	stored.ID = existing.ID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	r.devices[device.DeviceID] = &stored
	return nil
}

// UpdateLifecycle records a lifecycle change
func (r *deviceRepository) UpdateLifecycle(ctx context.Context, deviceID string, lc model.Lifecycle, state string) error {
	return r.mutate(deviceID, func(d *model.Device) {
		d.Lifecycle = lc
		d.State = state
		if lc.IsLive() {
			now := time.Now()
			d.LastSeen = &now
		}
	})
}

// UpdateLastResult records the last command outcome
func (r *deviceRepository) UpdateLastResult(ctx context.Context, deviceID string, code int, message string) error {
	return r.mutate(deviceID, func(d *model.Device) {
		d.LastStatusCode = code
		d.LastMessage = message
	})
}

func (r *deviceRepository) mutate(deviceID string, fn func(d *model.Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	fn(d)
	d.UpdatedAt = time.Now()
	return nil
}

// List retrieves devices with filtering and pagination
func (r *deviceRepository) List(ctx context.Context, filter *DeviceFilter) ([]*model.Device, int, error) {
	if filter == nil {
		filter = &DeviceFilter{}
	}

	r.mu.RLock()
	matched := make([]*model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		if filter.Family != nil && d.Family != *filter.Family {
			continue
		}
		if filter.Lifecycle != nil && d.Lifecycle != *filter.Lifecycle {
			continue
		}
		out := *d
		matched = append(matched, &out)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].DeviceID < matched[j].DeviceID })
	total := len(matched)

	if filter.PerPage <= 0 {
		return matched, total, nil
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filter.PerPage
	if start >= total {
		return []*model.Device{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// GetDeviceStats retrieves device statistics
func (r *deviceRepository) GetDeviceStats(ctx context.Context) (*DeviceStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &DeviceStats{
		ByFamily:    make(map[model.DeviceFamily]int),
		ByLifecycle: make(map[model.Lifecycle]int),
	}
	for _, d := range r.devices {
		stats.TotalDevices++
		stats.ByFamily[d.Family]++
		stats.ByLifecycle[d.Lifecycle]++
		if d.IsOnline() {
			stats.OnlineDevices++
		}
		if d.Lifecycle == model.LifecycleFaulted {
			stats.FaultedDevices++
		}
	}
	return stats, nil
}
