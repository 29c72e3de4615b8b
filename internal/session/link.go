// internal/session/link.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cash-device-service/internal/protocol"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

var (
	ErrNotOpen    = errors.New("session not open")
	ErrTimeout    = errors.New("device did not answer")
	ErrIncomplete = errors.New("incomplete reply")
)

const readChunk = 100

// Request is one write followed by a bounded read
type Request struct {
	Data []byte
	// Settle is the quiet time between write and first read
	Settle time.Duration
	// Reads bounds the number of transport reads, default 1
	Reads int
	// Complete reports whether the bytes read so far form a reply.
	// Nil accepts the first non-empty read.
	Complete func([]byte) bool
}

// Observer receives the duration and outcome of every exchange
type Observer func(d time.Duration, err error)

// Link owns the transport of one open session. Every exchange holds the
// link for its whole write-settle-read cycle.
type Link struct {
	mu        sync.Mutex
	transport protocol.Transport
	logger    *utils.DeviceLogger
	observer  Observer

	statsMu sync.Mutex
	health  driver.HealthMetrics
	latency time.Duration
}

// NewLink wraps an opened transport
func NewLink(t protocol.Transport, logger *utils.DeviceLogger) *Link {
	return &Link{transport: t, logger: logger}
}

// SetObserver installs a hook called after every exchange
func (l *Link) SetObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = o
}

// Port returns the transport address
func (l *Link) Port() string {
	return l.transport.Address()
}

// Exchange writes req.Data and collects the reply
func (l *Link) Exchange(ctx context.Context, req Request) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	reply, err := l.exchange(ctx, req)
	d := time.Since(start)

	l.record(d, err)
	l.logger.LogExchange(req.Data, reply, d, err)
	if l.observer != nil {
		l.observer(d, err)
	}
	return reply, err
}

func (l *Link) exchange(ctx context.Context, req Request) ([]byte, error) {
	if !l.transport.IsOpen() {
		return nil, ErrNotOpen
	}
	if err := l.transport.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if err := l.transport.Write(ctx, req.Data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := Sleep(ctx, req.Settle); err != nil {
		return nil, err
	}

	reads := req.Reads
	if reads <= 0 {
		reads = 1
	}

	var reply []byte
	for i := 0; i < reads; i++ {
		chunk, err := l.transport.Read(ctx, readChunk)
		if err != nil {
			return reply, fmt.Errorf("read: %w", err)
		}
		reply = append(reply, chunk...)
		if req.Complete == nil {
			if len(reply) > 0 {
				return reply, nil
			}
			continue
		}
		if len(reply) > 0 && req.Complete(reply) {
			return reply, nil
		}
	}

	if len(reply) == 0 {
		return nil, ErrTimeout
	}
	return reply, fmt.Errorf("%w: %d bytes", ErrIncomplete, len(reply))
}

// Send writes data without waiting for an answer
func (l *Link) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.transport.IsOpen() {
		return ErrNotOpen
	}
	if err := l.transport.Write(ctx, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close releases the transport
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transport.Close()
}

// Health returns the exchange counters
func (l *Link) Health() driver.HealthMetrics {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.health
}

func (l *Link) record(d time.Duration, err error) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	now := time.Now()
	l.health.Exchanges++
	l.health.LastExchange = &now
	if err != nil {
		l.health.Failures++
		l.health.LastFailureTime = &now
	}
	if l.latency == 0 {
		l.latency = d
	} else {
		l.latency = (l.latency + d) / 2
	}
	l.health.AverageLatency = l.latency
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
