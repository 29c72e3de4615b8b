// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"cash-device-service/internal/discovery"
)

// Scanner lists serial ports through the OS enumerator
type Scanner struct {
	logger *zap.Logger
	config *Config
	list   func() ([]*enumerator.PortDetails, error)
}

// Config for serial scanner
type Config struct {
	// PortPatterns are shell globs a port name must match. Empty keeps every port.
	PortPatterns []string `json:"port_patterns"`
	// USBOnly drops ports not backed by a USB bridge
	USBOnly bool `json:"usb_only"`
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		config: config,
		list:   enumerator.GetDetailedPortsList,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists the serial ports and identifies their USB bridges
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	var found []*discovery.DiscoveredPort
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if !s.matches(p) {
			continue
		}
		found = append(found, s.describe(p))
	}

	s.logger.Info("Serial scan completed", zap.Int("ports_found", len(found)))
	return found, nil
}

func (s *Scanner) matches(p *enumerator.PortDetails) bool {
	if s.config.USBOnly && !p.IsUSB {
		return false
	}
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, p.Name); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) describe(p *enumerator.PortDetails) *discovery.DiscoveredPort {
	d := &discovery.DiscoveredPort{
		Port:       p.Name,
		Source:     "serial",
		Confidence: 0.2,
	}
	if !p.IsUSB {
		return d
	}

	d.SerialNumber = p.SerialNumber
	d.Product = p.Product
	vid, verr := discovery.ParseID(p.VID)
	pid, perr := discovery.ParseID(p.PID)
	if verr != nil || perr != nil {
		s.logger.Debug("Unparsable USB ids", zap.String("port", p.Name), zap.String("vid", p.VID), zap.String("pid", p.PID))
		return d
	}
	d.VendorID = discovery.FormatID(vid)
	d.ProductID = discovery.FormatID(pid)
	d.Confidence = 0.3

	if b, ok := discovery.LookupBridge(vid, pid); ok {
		d.Bridge = b.Name
		d.Family = b.Family
		d.Confidence = b.Confidence
	}
	return d
}
