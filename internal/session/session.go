// internal/session/session.go
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

// LifecycleFunc is told about every coarse lifecycle change
type LifecycleFunc func(change model.LifecycleChange)

// Session is the state every family driver shares: identity, the open
// link and the lifecycle last reported. Drivers guard it with their own
// command mutex.
type Session struct {
	ID        string
	Family    model.DeviceFamily
	Logger    *utils.DeviceLogger
	Connector *Connector
	Link      *Link

	base        *utils.DeviceLogger
	onLifecycle LifecycleFunc
	observer    Observer
	lifecycle   model.Lifecycle
}

// New creates a disconnected session
func New(id string, family model.DeviceFamily, open protocol.Opener, candidates []string, logger *utils.DeviceLogger) *Session {
	return &Session{
		ID:        id,
		Family:    family,
		Logger:    logger,
		base:      logger,
		Connector: NewConnector(open, candidates, logger),
		lifecycle: model.LifecycleDisconnected,
	}
}

// OnLifecycle installs the lifecycle hook
func (s *Session) OnLifecycle(fn LifecycleFunc) {
	s.onLifecycle = fn
}

// Observe installs an exchange observer on every link the session opens
func (s *Session) Observe(o Observer) {
	s.observer = o
	if s.Link != nil {
		s.Link.SetObserver(o)
	}
}

// Scan drops any open link and connects through the connector
func (s *Session) Scan(ctx context.Context, probe Probe) error {
	s.Drop()
	link, err := s.Connector.Scan(ctx, probe)
	if err != nil {
		return err
	}
	if s.observer != nil {
		link.SetObserver(s.observer)
	}
	s.Link = link
	s.Logger = s.base.WithPort(link.Port())
	return nil
}

// Drop closes the link if one is open
func (s *Session) Drop() {
	if s.Link == nil {
		return
	}
	if err := s.Link.Close(); err != nil {
		s.Logger.LogConnection("close", false, err)
	}
	s.Link = nil
	s.Logger = s.base
}

// Exchange runs req on the open link
func (s *Session) Exchange(ctx context.Context, req Request) ([]byte, error) {
	if s.Link == nil {
		return nil, ErrNotOpen
	}
	return s.Link.Exchange(ctx, req)
}

// Send writes data on the open link
func (s *Session) Send(ctx context.Context, data []byte) error {
	if s.Link == nil {
		return ErrNotOpen
	}
	return s.Link.Send(ctx, data)
}

// Port returns the address of the open link
func (s *Session) Port() string {
	if s.Link == nil {
		return ""
	}
	return s.Link.Port()
}

// Health returns the link counters
func (s *Session) Health() driver.HealthMetrics {
	if s.Link == nil {
		return driver.HealthMetrics{}
	}
	return s.Link.Health()
}

// Lifecycle returns the lifecycle last tracked
func (s *Session) Lifecycle() model.Lifecycle {
	return s.lifecycle
}

// Track records the lifecycle derived from state and reports changes
func (s *Session) Track(lc model.Lifecycle, state string) {
	if lc == s.lifecycle {
		return
	}
	change := model.LifecycleChange{From: s.lifecycle, To: lc, State: state}
	s.lifecycle = lc
	s.Logger.Info("Lifecycle changed",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("state", state),
	)
	if s.onLifecycle != nil {
		s.onLifecycle(change)
	}
}

// Done logs a finished command and hands the response back
func (s *Session) Done(command model.CommandName, start time.Time, resp driver.CommandResponse) driver.CommandResponse {
	s.Logger.LogCommand(string(command), resp.StatusCode, resp.Message, time.Since(start))
	return resp
}
