// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"time"

	"cash-device-service/internal/model"
)

// ErrPortNotFound is returned when no candidate address answers the probe
var ErrPortNotFound = errors.New("port not found")

// ErrClosed is returned by I/O on a transport that is not open
var ErrClosed = errors.New("transport not open")

// Transport represents a byte-level channel to one peripheral.
// A Read that times out without data returns an empty slice and a nil error.
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)
	Flush() error

	// Protocol information
	GetProtocolType() model.ConnectionType
	Address() string

	Stats() ProtocolStats
}

// Opener builds an unopened transport for an address
type Opener func(address string) Transport

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

func (s *ProtocolStats) updateAverageLatency(newLatency time.Duration) {
	if s.AverageLatency == 0 {
		s.AverageLatency = newLatency
	} else {
		s.AverageLatency = (s.AverageLatency + newLatency) / 2
	}
}
