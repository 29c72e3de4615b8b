// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/discovery"
)

// Scanner probes configured serial-over-TCP endpoints (ser2net and the like)
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// Config for TCP scanner
type Config struct {
	Endpoints   []string      `json:"endpoints"`
	ConnTimeout time.Duration `json:"connection_timeout"`
}

// NewScanner creates a new TCP scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.ConnTimeout <= 0 {
		config.ConnTimeout = 2 * time.Second
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", "tcp")),
		config: config,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "tcp"
}

// IsAvailable reports whether any endpoint is configured
func (s *Scanner) IsAvailable() bool {
	return len(s.config.Endpoints) > 0
}

// Scan dials every endpoint and reports those accepting connections
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	dialer := net.Dialer{Timeout: s.config.ConnTimeout}

	var found []*discovery.DiscoveredPort
	for _, addr := range s.config.Endpoints {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			s.logger.Debug("Endpoint unreachable", zap.String("address", addr), zap.Error(err))
			continue
		}
		conn.Close()
		found = append(found, &discovery.DiscoveredPort{
			Port:       addr,
			Source:     "tcp",
			Confidence: 0.4,
		})
	}

	s.logger.Info("TCP scan completed", zap.Int("endpoints_found", len(found)))
	return found, nil
}
