// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"cash-device-service/internal/discovery"
)

// Scanner lists USB devices whose ids match a known cash bridge. It only
// reads descriptors and never opens a device.
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// Config for USB scanner
type Config struct {
	EnableDebug bool `json:"enable_debug"`
	// KnownOnly drops devices of vendors without a listed bridge
	KnownOnly bool `json:"known_only"`
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{KnownOnly: true}
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", "usb")),
		config: config,
	}
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable checks if USB scanning is available on this system
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return true
	default:
		s.logger.Warn("USB scanning support unknown for OS", zap.String("os", runtime.GOOS))
		return false
	}
}

// Scan enumerates the bus
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	startTime := time.Now()

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	var found []*discovery.DiscoveredPort
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if d := s.describe(desc); d != nil {
			found = append(found, d)
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("device enumeration failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return found, err
	}

	s.logger.Info("USB scan completed",
		zap.Int("devices_found", len(found)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return found, nil
}

// describe maps a descriptor onto a discovery, or nil when unknown
func (s *Scanner) describe(desc *gousb.DeviceDesc) *discovery.DiscoveredPort {
	vendor, product := uint16(desc.Vendor), uint16(desc.Product)
	if s.config.KnownOnly && !discovery.KnownVendor(vendor) {
		return nil
	}

	d := &discovery.DiscoveredPort{
		Source:     "usb",
		VendorID:   discovery.FormatID(vendor),
		ProductID:  discovery.FormatID(product),
		Confidence: 0.1,
		Location:   fmt.Sprintf("USB-Bus%d-Port%d", desc.Bus, desc.Port),
	}
	if b, ok := discovery.LookupBridge(vendor, product); ok {
		d.Bridge = b.Name
		d.Family = b.Family
		d.Confidence = b.Confidence
	}

	s.logger.Debug("USB device examined",
		zap.String("vendor_id", d.VendorID),
		zap.String("product_id", d.ProductID),
		zap.String("bridge", d.Bridge),
	)
	return d
}
