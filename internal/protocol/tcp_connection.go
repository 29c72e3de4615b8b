// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

// TCPTransport implements Transport for a serial line bridged over TCP
type TCPTransport struct {
	config  *TCPConfig
	conn    net.Conn
	logger  *zap.Logger
	mutex   sync.RWMutex
	isOpen  bool
	statsMu sync.Mutex
	stats   ProtocolStats
}

// NewTCPTransport creates a new TCP transport
func NewTCPTransport(config *TCPConfig, logger *zap.Logger) *TCPTransport {
	return &TCPTransport{
		config: config,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("address", config.Address),
		),
	}
}

// Open dials the remote end
func (tt *TCPTransport) Open(ctx context.Context) error {
	tt.mutex.Lock()
	defer tt.mutex.Unlock()

	if tt.isOpen {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   tt.config.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", tt.config.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tt.config.Address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && tt.config.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	tt.conn = conn
	tt.isOpen = true

	tt.statsMu.Lock()
	tt.stats.IsConnected = true
	tt.stats.LastActivity = time.Now()
	tt.statsMu.Unlock()

	tt.logger.Info("TCP connection opened")
	return nil
}

// Close closes the TCP connection
func (tt *TCPTransport) Close() error {
	tt.mutex.Lock()
	defer tt.mutex.Unlock()

	if !tt.isOpen || tt.conn == nil {
		return nil
	}

	err := tt.conn.Close()
	tt.conn = nil
	tt.isOpen = false

	tt.statsMu.Lock()
	tt.stats.IsConnected = false
	tt.statsMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}
	tt.logger.Info("TCP connection closed")
	return nil
}

// IsOpen returns whether the connection is open
func (tt *TCPTransport) IsOpen() bool {
	tt.mutex.RLock()
	defer tt.mutex.RUnlock()
	return tt.isOpen && tt.conn != nil
}

// Write writes data to the TCP connection
func (tt *TCPTransport) Write(ctx context.Context, data []byte) error {
	tt.mutex.RLock()
	defer tt.mutex.RUnlock()

	if !tt.isOpen || tt.conn == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if tt.config.WriteTimeout > 0 {
		tt.conn.SetWriteDeadline(time.Now().Add(tt.config.WriteTimeout))
	}

	startTime := time.Now()
	n, err := tt.conn.Write(data)
	if err != nil {
		tt.countError()
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}
	if n != len(data) {
		tt.countError()
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	tt.statsMu.Lock()
	tt.stats.BytesWritten += int64(n)
	tt.stats.OperationCount++
	tt.stats.LastActivity = time.Now()
	tt.stats.updateAverageLatency(time.Since(startTime))
	tt.statsMu.Unlock()
	return nil
}

// Read reads what arrives before the read deadline. A deadline with no
// data is reported like a quiet serial line: empty slice, nil error.
func (tt *TCPTransport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	tt.mutex.RLock()
	defer tt.mutex.RUnlock()

	if !tt.isOpen || tt.conn == nil {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(tt.config.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	tt.conn.SetReadDeadline(deadline)

	buffer := make([]byte, maxBytes)
	n, err := tt.conn.Read(buffer)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return buffer[:n], nil
		}
		tt.countError()
		return nil, fmt.Errorf("failed to read from TCP connection: %w", err)
	}

	tt.statsMu.Lock()
	tt.stats.BytesRead += int64(n)
	tt.stats.OperationCount++
	tt.stats.LastActivity = time.Now()
	tt.statsMu.Unlock()

	return buffer[:n], nil
}

// Flush drains bytes already buffered by the peer
func (tt *TCPTransport) Flush() error {
	tt.mutex.RLock()
	defer tt.mutex.RUnlock()

	if !tt.isOpen || tt.conn == nil {
		return ErrClosed
	}

	buffer := make([]byte, 256)
	for {
		tt.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := tt.conn.Read(buffer)
		if err != nil || n == 0 {
			if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
				return fmt.Errorf("failed to flush TCP connection: %w", err)
			}
			return nil
		}
	}
}

// GetProtocolType returns the protocol type
func (tt *TCPTransport) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeTCP
}

// Address returns host:port
func (tt *TCPTransport) Address() string {
	return tt.config.Address
}

// Stats returns a copy of the counters
func (tt *TCPTransport) Stats() ProtocolStats {
	tt.statsMu.Lock()
	defer tt.statsMu.Unlock()
	return tt.stats
}

func (tt *TCPTransport) countError() {
	tt.statsMu.Lock()
	tt.stats.ErrorCount++
	tt.statsMu.Unlock()
}
