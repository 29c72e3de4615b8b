// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

// PortScanner finds candidate ports for cash peripherals
type PortScanner interface {
	Scan(ctx context.Context) ([]*DiscoveredPort, error)
	GetScannerType() string
	IsAvailable() bool
}

// DiscoveredPort is one port or USB device that may host a peripheral
type DiscoveredPort struct {
	Port         string             `json:"port,omitempty"`
	Source       string             `json:"source"`
	VendorID     string             `json:"vendor_id,omitempty"`
	ProductID    string             `json:"product_id,omitempty"`
	SerialNumber string             `json:"serial_number,omitempty"`
	Product      string             `json:"product,omitempty"`
	Bridge       string             `json:"bridge,omitempty"`
	Family       model.DeviceFamily `json:"family,omitempty"`
	Confidence   float64            `json:"confidence"`
	Location     string             `json:"location,omitempty"`
	ConfiguredBy []string           `json:"configured_by,omitempty"`
}

// Key identifies a discovery across scanners
func (d *DiscoveredPort) Key() string {
	if d.Port != "" {
		return d.Port
	}
	return fmt.Sprintf("%s:%s:%s:%s", d.VendorID, d.ProductID, d.SerialNumber, d.Location)
}

// ScannerManager runs every registered scanner
type ScannerManager struct {
	mu       sync.RWMutex
	scanners map[string]PortScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]PortScanner),
		logger:   logger,
	}
}

// RegisterScanner registers a port scanner
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Info("Scanner registered", zap.String("type", scannerType))
}

// ScanAll runs every available scanner. A failing scanner is logged and
// skipped. Results are sorted by confidence, highest first.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*DiscoveredPort, error) {
	var all []*DiscoveredPort
	for _, scannerType := range sm.types() {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		found, err := sm.ScanByType(ctx, scannerType)
		if err != nil {
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}
		all = append(all, found...)
		sm.logger.Info("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("ports_found", len(found)),
		)
	}
	return Merge(all), nil
}

// ScanByType scans with a specific scanner type
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*DiscoveredPort, error) {
	sm.mu.RLock()
	scanner, exists := sm.scanners[scannerType]
	sm.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}
	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}
	return scanner.Scan(ctx)
}

// GetAvailableScanners returns the available scanner types in order
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for _, t := range sm.types() {
		sm.mu.RLock()
		s := sm.scanners[t]
		sm.mu.RUnlock()
		if s.IsAvailable() {
			available = append(available, t)
		}
	}
	return available
}

func (sm *ScannerManager) types() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.scanners))
	for t := range sm.scanners {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Merge drops duplicate discoveries, keeping the most confident one,
// and sorts the rest by confidence then key
func Merge(found []*DiscoveredPort) []*DiscoveredPort {
	best := make(map[string]*DiscoveredPort, len(found))
	for _, d := range found {
		k := d.Key()
		if cur, ok := best[k]; !ok || d.Confidence > cur.Confidence {
			best[k] = d
		}
	}

	out := make([]*DiscoveredPort, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}
