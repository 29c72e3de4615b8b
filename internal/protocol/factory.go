// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/model"
	"cash-device-service/pkg/devicetypes"
)

// Config describes how a family reaches its device
type Config struct {
	Type         model.ConnectionType
	PortPattern  string
	MaximumPorts int
	Address      string
	BaudRate     int
	DataBits     int
	StopBits     int
	Parity       string
	ReadTimeout  time.Duration
	DialTimeout  time.Duration
}

// NewOpener returns an Opener that builds transports of cfg.Type
func NewOpener(cfg Config, logger *zap.Logger) (Opener, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case model.ConnectionTypeSerial, "":
		return func(address string) Transport {
			return NewSerialTransport(&SerialConfig{
				Port:        address,
				BaudRate:    cfg.BaudRate,
				DataBits:    withDefault(cfg.DataBits, 8),
				StopBits:    withDefault(cfg.StopBits, 1),
				Parity:      cfg.Parity,
				ReadTimeout: cfg.ReadTimeout,
			}, logger)
		}, nil
	case model.ConnectionTypeTCP:
		return func(address string) Transport {
			return NewTCPTransport(&TCPConfig{
				Address:      address,
				KeepAlive:    true,
				DialTimeout:  withDefaultDuration(cfg.DialTimeout, 5*time.Second),
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.ReadTimeout,
			}, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol type: %s", cfg.Type)
	}
}

// CandidatePorts lists the addresses a connector scans, in order
func CandidatePorts(cfg Config) []string {
	if cfg.Address != "" {
		return []string{cfg.Address}
	}
	if cfg.Type == model.ConnectionTypeTCP {
		return nil
	}
	pattern := cfg.PortPattern
	if !strings.Contains(pattern, "%d") {
		return []string{pattern}
	}
	ports := make([]string, 0, cfg.MaximumPorts)
	for i := 0; i < cfg.MaximumPorts; i++ {
		ports = append(ports, fmt.Sprintf(pattern, i))
	}
	return ports
}

// ValidateConfig validates configuration for a specific protocol type
func ValidateConfig(cfg Config) error {
	switch cfg.Type {
	case model.ConnectionTypeSerial, "":
		if cfg.Address == "" && cfg.PortPattern == "" {
			return fmt.Errorf("serial port or port pattern is required")
		}
		if cfg.Address == "" && cfg.MaximumPorts <= 0 {
			return fmt.Errorf("maximum_ports must be positive, got %d", cfg.MaximumPorts)
		}
		if !validBaudRate(cfg.BaudRate) {
			return fmt.Errorf("invalid baud rate: %d", cfg.BaudRate)
		}
	case model.ConnectionTypeTCP:
		if cfg.Address == "" {
			return fmt.Errorf("TCP address is required")
		}
	default:
		return fmt.Errorf("unsupported connection type: %s", cfg.Type)
	}
	return nil
}

func validBaudRate(rate int) bool {
	for _, r := range devicetypes.SupportedBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}

func withDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func withDefaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
