// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

// SerialTransport implements Transport over a local tty
type SerialTransport struct {
	config  *SerialConfig
	port    serial.Port
	logger  *zap.Logger
	mutex   sync.RWMutex
	isOpen  bool
	statsMu sync.Mutex
	stats   ProtocolStats
}

// NewSerialTransport creates a new serial transport
func NewSerialTransport(config *SerialConfig, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// Open opens the serial port in raw mode
func (st *SerialTransport) Open(ctx context.Context) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st.logger.Debug("Opening serial port", zap.Int("baud_rate", st.config.BaudRate))

	mode := &serial.Mode{
		BaudRate: st.config.BaudRate,
		DataBits: st.config.DataBits,
		StopBits: serial.OneStopBit,
	}
	if st.config.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch st.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(st.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", st.config.Port, err)
	}

	if err := port.SetReadTimeout(st.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	st.port = port
	st.isOpen = true

	st.statsMu.Lock()
	st.stats.IsConnected = true
	st.stats.LastActivity = time.Now()
	st.statsMu.Unlock()

	st.logger.Info("Serial port opened")
	return nil
}

// Close closes the serial port
func (st *SerialTransport) Close() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return nil
	}

	err := st.port.Close()
	st.port = nil
	st.isOpen = false

	st.statsMu.Lock()
	st.stats.IsConnected = false
	st.statsMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	st.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the port is open
func (st *SerialTransport) IsOpen() bool {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.isOpen && st.port != nil
}

// Write writes a whole frame to the port
func (st *SerialTransport) Write(ctx context.Context, data []byte) error {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	if !st.isOpen || st.port == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	startTime := time.Now()
	n, err := st.port.Write(data)
	if err != nil {
		st.countError()
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		st.countError()
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	st.statsMu.Lock()
	st.stats.BytesWritten += int64(n)
	st.stats.OperationCount++
	st.stats.LastActivity = time.Now()
	st.stats.updateAverageLatency(time.Since(startTime))
	st.statsMu.Unlock()
	return nil
}

type readResult struct {
	data []byte
	err  error
}

// Read returns whatever arrives within the port read timeout
func (st *SerialTransport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	if !st.isOpen || st.port == nil {
		return nil, ErrClosed
	}

	buffer := make([]byte, maxBytes)
	done := make(chan readResult, 1)

	go func() {
		n, err := st.port.Read(buffer)
		if err != nil && !errors.Is(err, io.EOF) {
			done <- readResult{err: fmt.Errorf("failed to read from serial port: %w", err)}
			return
		}
		done <- readResult{data: buffer[:n]}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			st.countError()
			return nil, result.err
		}
		st.statsMu.Lock()
		st.stats.BytesRead += int64(len(result.data))
		st.stats.OperationCount++
		st.stats.LastActivity = time.Now()
		st.statsMu.Unlock()
		return result.data, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush discards unread input
func (st *SerialTransport) Flush() error {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	if !st.isOpen || st.port == nil {
		return ErrClosed
	}
	return st.port.ResetInputBuffer()
}

// GetProtocolType returns the protocol type
func (st *SerialTransport) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// Address returns the tty path
func (st *SerialTransport) Address() string {
	return st.config.Port
}

// Stats returns a copy of the counters
func (st *SerialTransport) Stats() ProtocolStats {
	st.statsMu.Lock()
	defer st.statsMu.Unlock()
	return st.stats
}

func (st *SerialTransport) countError() {
	st.statsMu.Lock()
	st.stats.ErrorCount++
	st.statsMu.Unlock()
}
