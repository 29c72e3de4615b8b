// internal/session/connector.go
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cash-device-service/internal/protocol"
	"cash-device-service/internal/utils"
)

// Probe identifies the device behind a freshly opened link
type Probe func(ctx context.Context, link *Link) error

// Connector scans candidate addresses until a probe succeeds
type Connector struct {
	open       protocol.Opener
	candidates []string
	logger     *utils.DeviceLogger
}

// NewConnector creates a connector over an ordered candidate list
func NewConnector(open protocol.Opener, candidates []string, logger *utils.DeviceLogger) *Connector {
	return &Connector{open: open, candidates: candidates, logger: logger}
}

// Candidates returns the addresses Scan tries
func (c *Connector) Candidates() []string {
	return c.candidates
}

// Scan returns the first link whose probe succeeds. Links that fail the
// probe are closed before the next address is tried.
func (c *Connector) Scan(ctx context.Context, probe Probe) (*Link, error) {
	for _, addr := range c.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t := c.open(addr)
		if err := t.Open(ctx); err != nil {
			c.logger.Debug("Candidate did not open", zap.String("address", addr), zap.Error(err))
			continue
		}

		link := NewLink(t, c.logger.WithPort(addr))
		if err := probe(ctx, link); err != nil {
			c.logger.Debug("Candidate did not identify", zap.String("address", addr), zap.Error(err))
			link.Close()
			continue
		}

		c.logger.LogConnection("scan", true, nil)
		return link, nil
	}

	c.logger.LogConnection("scan", false, protocol.ErrPortNotFound)
	return nil, fmt.Errorf("%w: tried %d candidates", protocol.ErrPortNotFound, len(c.candidates))
}
