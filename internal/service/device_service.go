// internal/service/device_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/config"
	internalDriver "cash-device-service/internal/driver"
	"cash-device-service/internal/engine"
	"cash-device-service/internal/hub"
	"cash-device-service/internal/metrics"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/internal/repository"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

// ErrUnknownDevice is returned for a device id that is not configured
var ErrUnknownDevice = errors.New("unknown device")

// OpenerFunc builds the transport opener of a device. A nil result lets
// the registry derive it from the transport settings.
type OpenerFunc func(cfg config.DeviceConfig) protocol.Opener

type lifecycleNotifier interface {
	OnLifecycle(fn func(model.LifecycleChange))
}

type exchangeObserver interface {
	ObserveExchanges(fn func(time.Duration, error))
}

type managedDevice struct {
	cfg config.DeviceConfig
	drv driver.CashDriver
}

// DeviceService owns the driver of every configured device
type DeviceService struct {
	mu      sync.RWMutex
	devices map[string]*managedDevice

	deviceRepo     repository.DeviceRepository
	driverRegistry *internalDriver.Registry
	engine         *engine.Engine
	hub            *hub.Hub
	logger         *utils.ServiceLogger
}

// NewDeviceService creates a new device service instance
func NewDeviceService(
	deviceRepo repository.DeviceRepository,
	driverRegistry *internalDriver.Registry,
	eng *engine.Engine,
	h *hub.Hub,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		devices:        make(map[string]*managedDevice),
		deviceRepo:     deviceRepo,
		driverRegistry: driverRegistry,
		engine:         eng,
		hub:            h,
		logger:         utils.NewServiceLogger(logger, "device-service"),
	}
}

// LoadDevices builds a driver for every enabled device. open may be nil.
func (ds *DeviceService) LoadDevices(ctx context.Context, devices []config.DeviceConfig, open OpenerFunc) error {
	var errs []error
	for _, cfg := range devices {
		if !cfg.Enabled {
			continue
		}
		if err := ds.RegisterDevice(ctx, cfg, open); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterDevice builds the driver of one device and wires its lifecycle
// and exchange hooks
func (ds *DeviceService) RegisterDevice(ctx context.Context, cfg config.DeviceConfig, open OpenerFunc) error {
	var opener protocol.Opener
	if open != nil {
		opener = open(cfg)
	}
	drv, err := ds.driverRegistry.CreateDriver(cfg, opener)
	if err != nil {
		ds.logger.Error("Failed to create driver", zap.String("device_id", cfg.ID), zap.Error(err))
		return fmt.Errorf("device %s: %w", cfg.ID, err)
	}

	device := &model.Device{
		DeviceID:       cfg.ID,
		Family:         drv.Family(),
		ConnectionType: connectionType(cfg),
		Capabilities:   model.FamilyCapabilities[drv.Family()],
		Lifecycle:      drv.Lifecycle(),
		State:          drv.State(),
	}

	ds.mu.Lock()
	if _, exists := ds.devices[cfg.ID]; exists {
		ds.mu.Unlock()
		drv.Close()
		return fmt.Errorf("device %s already registered", cfg.ID)
	}
	ds.devices[cfg.ID] = &managedDevice{cfg: cfg, drv: drv}
	ds.mu.Unlock()

	if err := ds.deviceRepo.Create(ctx, device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	if n, ok := drv.(lifecycleNotifier); ok {
		id, family := cfg.ID, drv.Family()
		n.OnLifecycle(func(c model.LifecycleChange) { ds.onLifecycle(id, family, c) })
	}
	if o, ok := drv.(exchangeObserver); ok {
		id := cfg.ID
		o.ObserveExchanges(func(d time.Duration, err error) { metrics.RecordExchange(id, d, err) })
	}
	metrics.SetLifecycle(cfg.ID, drv.Lifecycle())

	ds.logger.Info("Device registered successfully",
		zap.String("device_id", cfg.ID),
		zap.String("family", string(drv.Family())),
		zap.Strings("candidates", protocol.CandidatePorts(cfg.ProtocolConfig())),
	)
	return nil
}

// onLifecycle runs under the driver lock and must not call back into it
func (ds *DeviceService) onLifecycle(id string, family model.DeviceFamily, c model.LifecycleChange) {
	if err := ds.deviceRepo.UpdateLifecycle(context.Background(), id, c.To, c.State); err != nil {
		ds.logger.Warn("Failed to update device lifecycle", zap.String("device_id", id), zap.Error(err))
	}
	metrics.SetLifecycle(id, c.To)

	e := model.NewDeviceEvent(id, family, model.EventLifecycle, 0, fmt.Sprintf("%s -> %s", c.From, c.To), c)
	if c.To == model.LifecycleFaulted {
		e.Severity = model.SeverityCritical
	}
	ds.hub.Publish(e)
}

// Driver returns the driver of id
func (ds *DeviceService) Driver(id string) (driver.CashDriver, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	m, ok := ds.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return m.drv, nil
}

// Config returns the configuration of id
func (ds *DeviceService) Config(id string) (config.DeviceConfig, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	m, ok := ds.devices[id]
	if !ok {
		return config.DeviceConfig{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return m.cfg, nil
}

// IDs returns the registered device ids in order
func (ds *DeviceService) IDs() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	ids := make([]string, 0, len(ds.devices))
	for id := range ds.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Configs returns the configuration of every registered device
func (ds *DeviceService) Configs() []config.DeviceConfig {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]config.DeviceConfig, 0, len(ds.devices))
	for _, m := range ds.devices {
		out = append(out, m.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetDevice retrieves device information with its live port
func (ds *DeviceService) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	drv, err := ds.Driver(deviceID)
	if err != nil {
		return nil, err
	}
	device, err := ds.deviceRepo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("device not found: %w", err)
	}
	device.Port = drv.Port()
	device.Lifecycle = drv.Lifecycle()
	device.State = drv.State()
	return device, nil
}

// ListDevices retrieves devices with filtering
func (ds *DeviceService) ListDevices(ctx context.Context, filter *DeviceFilter) ([]*model.Device, *PaginationResult, error) {
	if filter == nil {
		filter = &DeviceFilter{}
	}
	devices, total, err := ds.deviceRepo.List(ctx, filter.toRepoFilter())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if drv, err := ds.Driver(d.DeviceID); err == nil {
			d.Port = drv.Port()
		}
	}

	pagination := &PaginationResult{Total: total, Page: filter.Page, PerPage: filter.PerPage, TotalPages: 1}
	if filter.PerPage > 0 {
		pagination.TotalPages = (total + filter.PerPage - 1) / filter.PerPage
	}
	return devices, pagination, nil
}

// GetDeviceHealth reports the link counters and engine state of a device
func (ds *DeviceService) GetDeviceHealth(ctx context.Context, deviceID string) (*DeviceHealth, error) {
	drv, err := ds.Driver(deviceID)
	if err != nil {
		return nil, err
	}
	h := drv.HealthMetrics()
	return &DeviceHealth{
		DeviceID:    deviceID,
		Lifecycle:   drv.Lifecycle(),
		State:       drv.State(),
		Port:        drv.Port(),
		Polling:     ds.engine.Running(deviceID),
		SuccessRate: h.SuccessRate(),
		Metrics:     h,
	}, nil
}

// Stats returns device statistics
func (ds *DeviceService) Stats(ctx context.Context) (*repository.DeviceStats, error) {
	return ds.deviceRepo.GetDeviceStats(ctx)
}

// Close stops every poll loop and releases every transport
func (ds *DeviceService) Close() {
	ds.engine.Close()

	ds.mu.RLock()
	defer ds.mu.RUnlock()
	for id, m := range ds.devices {
		if err := m.drv.Close(); err != nil {
			ds.logger.Warn("Failed to close driver", zap.String("device_id", id), zap.Error(err))
		}
	}
}

func connectionType(cfg config.DeviceConfig) model.ConnectionType {
	if strings.EqualFold(cfg.Transport, "tcp") {
		return model.ConnectionTypeTCP
	}
	return model.ConnectionTypeSerial
}

// Data Transfer Objects

// DeviceFilter represents device listing filters
type DeviceFilter struct {
	Family    *model.DeviceFamily `json:"family,omitempty"`
	Lifecycle *model.Lifecycle    `json:"lifecycle,omitempty"`
	Page      int                 `json:"page"`
	PerPage   int                 `json:"per_page"`
}

func (df *DeviceFilter) toRepoFilter() *repository.DeviceFilter {
	return &repository.DeviceFilter{
		Family:    df.Family,
		Lifecycle: df.Lifecycle,
		Page:      df.Page,
		PerPage:   df.PerPage,
	}
}

// PaginationResult represents pagination information
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// DeviceHealth represents device health information
type DeviceHealth struct {
	DeviceID    string               `json:"device_id"`
	Lifecycle   model.Lifecycle      `json:"lifecycle"`
	State       string               `json:"state"`
	Port        string               `json:"port,omitempty"`
	Polling     bool                 `json:"polling"`
	SuccessRate float64              `json:"success_rate"`
	Metrics     driver.HealthMetrics `json:"metrics"`
}
