// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cash-device-service/internal/config"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/pkg/driver"
)

// DriverFactory creates the driver of one configured device
type DriverFactory func(cfg config.DeviceConfig, open protocol.Opener, logger *zap.Logger) (driver.CashDriver, error)

// Registry manages family driver registration and creation
type Registry struct {
	drivers map[model.DeviceFamily]DriverFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[model.DeviceFamily]DriverFactory),
		logger:  logger,
	}
}

// Register registers a driver factory for a family
func (r *Registry) Register(family model.DeviceFamily, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[family] = factory
	r.logger.Info("Driver registered", zap.String("family", string(family)))
}

// CreateDriver builds the driver of cfg over transports from open. A nil
// opener is built from the device transport settings.
func (r *Registry) CreateDriver(cfg config.DeviceConfig, open protocol.Opener) (driver.CashDriver, error) {
	family, ok := model.ParseFamily(cfg.Family)
	if !ok {
		return nil, fmt.Errorf("%w: unknown family %q", driver.ErrValidation, cfg.Family)
	}

	r.mu.RLock()
	factory, exists := r.drivers[family]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no driver registered for family %s", family)
	}

	if open == nil {
		var err error
		open, err = protocol.NewOpener(cfg.ProtocolConfig(), r.logger)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", cfg.ID, err)
		}
	}
	return factory(cfg, open, r.logger)
}

// ListDrivers returns the registered families in order
func (r *Registry) ListDrivers() []model.DeviceFamily {
	r.mu.RLock()
	defer r.mu.RUnlock()

	families := make([]model.DeviceFamily, 0, len(r.drivers))
	for f := range r.drivers {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// IsSupported checks if a family has a driver
func (r *Registry) IsSupported(family model.DeviceFamily) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.drivers[family]
	return exists
}
