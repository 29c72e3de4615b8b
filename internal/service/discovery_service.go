// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/config"
	"cash-device-service/internal/discovery"
	"cash-device-service/internal/discovery/serial"
	"cash-device-service/internal/discovery/tcp"
	"cash-device-service/internal/discovery/usb"
	internalDriver "cash-device-service/internal/driver"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/internal/utils"
)

// DiscoveryService lists the ports that may host a configured peripheral
type DiscoveryService struct {
	driverRegistry *internalDriver.Registry
	scannerManager *discovery.ScannerManager
	devices        []config.DeviceConfig
	logger         *utils.ServiceLogger

	mu       sync.RWMutex
	last     []*discovery.DiscoveredPort
	lastScan time.Time
}

// NewDiscoveryService creates a new discovery service. devices are used
// to narrow the serial scan and to dial ser2net endpoints.
func NewDiscoveryService(
	driverRegistry *internalDriver.Registry,
	cfg config.DiscoveryConfig,
	devices []config.DeviceConfig,
	logger *zap.Logger,
) *DiscoveryService {
	ds := &DiscoveryService{
		driverRegistry: driverRegistry,
		scannerManager: discovery.NewScannerManager(logger),
		devices:        devices,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}
	ds.initializeScanners(cfg)
	return ds
}

// NewDiscoveryServiceWithScanners creates a discovery service over the
// given scanners
func NewDiscoveryServiceWithScanners(driverRegistry *internalDriver.Registry, devices []config.DeviceConfig, logger *zap.Logger, scanners ...discovery.PortScanner) *DiscoveryService {
	ds := &DiscoveryService{
		driverRegistry: driverRegistry,
		scannerManager: discovery.NewScannerManager(logger),
		devices:        devices,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}
	for _, s := range scanners {
		ds.scannerManager.RegisterScanner(s)
	}
	return ds
}

// initializeScanners registers all available scanners
func (ds *DiscoveryService) initializeScanners(cfg config.DiscoveryConfig) {
	var patterns, endpoints []string
	for _, d := range ds.devices {
		if strings.EqualFold(d.Transport, "tcp") {
			if d.Address != "" {
				endpoints = append(endpoints, d.Address)
			}
			continue
		}
		if d.PortPattern != "" {
			patterns = append(patterns, strings.ReplaceAll(d.PortPattern, "%d", "*"))
		}
	}

	if s := serial.NewScanner(ds.logger.Logger, &serial.Config{PortPatterns: patterns}); s.IsAvailable() {
		ds.scannerManager.RegisterScanner(s)
	}
	if cfg.USBScan {
		if s := usb.NewScanner(ds.logger.Logger, nil); s.IsAvailable() {
			ds.scannerManager.RegisterScanner(s)
		}
	}
	if s := tcp.NewScanner(ds.logger.Logger, &tcp.Config{Endpoints: endpoints}); s.IsAvailable() {
		ds.scannerManager.RegisterScanner(s)
	}

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", ds.scannerManager.GetAvailableScanners()),
	)
}

// ScanPorts runs one scan. scanType is all, serial, usb or tcp.
func (ds *DiscoveryService) ScanPorts(ctx context.Context, scanType string) ([]*discovery.DiscoveredPort, error) {
	if scanType == "" {
		scanType = "all"
	}
	ds.logger.Info("Starting port scan", zap.String("type", scanType))

	var ports []*discovery.DiscoveredPort
	var err error
	switch scanType {
	case "all":
		ports, err = ds.scannerManager.ScanAll(ctx)
	case "serial", "usb", "tcp":
		ports, err = ds.scannerManager.ScanByType(ctx, scanType)
	default:
		return nil, fmt.Errorf("unsupported scan type: %s", scanType)
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	ds.annotate(ports)
	if scanType == "all" {
		ds.mu.Lock()
		ds.last, ds.lastScan = ports, time.Now()
		ds.mu.Unlock()
	}

	ds.logger.Info("Port scan completed",
		zap.Int("ports_found", len(ports)),
		zap.String("scan_type", scanType),
	)
	return ports, nil
}

// annotate records which configured devices would probe each port
func (ds *DiscoveryService) annotate(ports []*discovery.DiscoveredPort) {
	owners := make(map[string][]string)
	for _, d := range ds.devices {
		for _, p := range protocol.CandidatePorts(d.ProtocolConfig()) {
			owners[p] = append(owners[p], d.ID)
		}
	}
	for _, p := range ports {
		if ids, ok := owners[p.Port]; ok {
			p.ConfiguredBy = ids
		}
	}
}

// LastScan returns the result of the most recent full scan
func (ds *DiscoveryService) LastScan() ([]*discovery.DiscoveredPort, time.Time) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.last, ds.lastScan
}

// Run rescans every interval until ctx is done
func (ds *DiscoveryService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := ds.ScanPorts(ctx, "all"); err != nil && ctx.Err() == nil {
			ds.logger.Warn("Periodic scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// GetSupportedFamilies returns every family with a registered driver
func (ds *DiscoveryService) GetSupportedFamilies() *SupportedFamiliesResponse {
	families := ds.driverRegistry.ListDrivers()
	caps := make(map[model.DeviceFamily][]model.Capability, len(families))
	for _, f := range families {
		caps[f] = model.FamilyCapabilities[f]
	}
	return &SupportedFamiliesResponse{
		Families:     families,
		Capabilities: caps,
		Scanners:     ds.scannerManager.GetAvailableScanners(),
	}
}

// GetFamilyCapabilities returns capabilities for a device family
func (ds *DiscoveryService) GetFamilyCapabilities(family string) ([]model.Capability, error) {
	f, ok := model.ParseFamily(family)
	if !ok || !ds.driverRegistry.IsSupported(f) {
		return nil, fmt.Errorf("device family not supported: %s", family)
	}
	caps := append([]model.Capability(nil), model.FamilyCapabilities[f]...)
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps, nil
}

// SupportedFamiliesResponse represents supported families response
type SupportedFamiliesResponse struct {
	Families     []model.DeviceFamily                      `json:"families"`
	Capabilities map[model.DeviceFamily][]model.Capability `json:"capabilities"`
	Scanners     []string                                  `json:"scanners"`
}
