// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cash-device-service/internal/config"
	"cash-device-service/internal/metrics"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultMaxFailures  = 3
)

// Engine owns one poll loop per reading device
type Engine struct {
	mu      sync.Mutex
	pollers map[string]*Poller
	loops   map[string]*loop
	closed  bool

	interval    time.Duration
	maxFailures int
	pub         Publisher
	logger      *zap.Logger
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine publishing to pub
func New(cfg config.EngineConfig, pub Publisher, logger *zap.Logger) *Engine {
	e := &Engine{
		pollers:     make(map[string]*Poller),
		loops:       make(map[string]*loop),
		interval:    cfg.PollInterval,
		maxFailures: cfg.MaxConsecutiveFailures,
		pub:         pub,
		logger:      logger.With(zap.String("component", "engine")),
	}
	if e.interval <= 0 {
		e.interval = defaultPollInterval
	}
	if e.maxFailures <= 0 {
		e.maxFailures = defaultMaxFailures
	}
	return e
}

// Poller returns the poller of dev, creating it on first use
func (e *Engine) Poller(dev driver.CashDriver) *Poller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poller(dev)
}

func (e *Engine) poller(dev driver.CashDriver) *Poller {
	p, ok := e.pollers[dev.ID()]
	if !ok || p.dev != dev {
		p = newPoller(dev, e.pub, e.maxFailures, e.logger)
		e.pollers[dev.ID()] = p
	}
	return p
}

// Start launches the poll loop of dev. The device must be reading.
// Starting a running loop is a no-op.
func (e *Engine) Start(dev driver.CashDriver) error {
	if !Pollable(dev) {
		return fmt.Errorf("%w: %s has no poll cycle", driver.ErrValidation, dev.ID())
	}
	if dev.Lifecycle() != model.LifecycleReading {
		return fmt.Errorf("%w: %s is %s", driver.ErrValidation, dev.ID(), dev.Lifecycle())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine closed")
	}
	if l, ok := e.loops[dev.ID()]; ok {
		select {
		case <-l.done:
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	e.loops[dev.ID()] = l
	go e.run(ctx, e.poller(dev), l)

	e.logger.Info("Poll loop started", zap.String("device_id", dev.ID()), zap.Duration("interval", e.interval))
	return nil
}

// Stop cancels the loop of id and waits for it to exit
func (e *Engine) Stop(id string) {
	e.mu.Lock()
	l, ok := e.loops[id]
	delete(e.loops, id)
	e.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// Running reports whether a loop is polling id
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	l, ok := e.loops[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Close stops every loop
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	loops := e.loops
	e.loops = make(map[string]*loop)
	e.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// run polls until the device leaves Reading, a halting outcome arrives
// or the loop is cancelled. Cancellation is only checked between cycles.
func (e *Engine) run(ctx context.Context, p *Poller, l *loop) {
	defer close(l.done)
	metrics.PollLoops.Inc()
	defer metrics.PollLoops.Dec()
	limiter := rate.NewLimiter(rate.Every(e.interval), 1)
	log := p.logger

	for {
		if err := limiter.Wait(ctx); err != nil {
			log.Debug("Poll loop cancelled")
			return
		}
		if p.dev.Lifecycle() != model.LifecycleReading {
			log.Info("Poll loop finished", zap.String("lifecycle", string(p.dev.Lifecycle())))
			return
		}

		out, err := p.Poll(context.WithoutCancel(ctx))
		if err != nil {
			log.Error("Poll loop aborted", zap.Error(err))
			return
		}

		switch out.verdict {
		case halt:
			log.Warn("Poll loop halted", zap.Int("status_code", out.Code))
			return
		case teardown:
			p.dev.Fault(fmt.Sprintf("poll loop torn down on status %d", out.Code))
			log.Error("Session faulted by poll loop", zap.Int("status_code", out.Code))
			return
		}
	}
}
