// internal/driver/dispenser/dispenser_driver.go
package dispenser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/codec/crt"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/internal/session"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

var errNoDispenser = errors.New("dispenser did not initialize")

// Config holds the construction options of a card dispenser session
type Config struct {
	ID              string
	Opener          protocol.Opener
	Candidates      []string
	Settle          time.Duration
	MaxInitAttempts int
	// ShortTime is added to the settle delay of Init and Status
	ShortTime time.Duration
	// LongTime is added to the settle delay of commands that move a card
	LongTime time.Duration
}

// Driver drives a CRT card dispenser
type Driver struct {
	mu          sync.Mutex
	cfg         Config
	sess        *session.Session
	sm          *session.Machine[State, Event]
	initialized bool
	status      crt.StatusReport
	lastError   crt.ErrorCode
}

// New creates a disconnected dispenser driver
func New(cfg Config, logger *zap.Logger) (*Driver, error) {
	if cfg.MaxInitAttempts <= 0 {
		return nil, fmt.Errorf("%w: max init attempts must be positive", driver.ErrValidation)
	}
	if cfg.ShortTime < 0 || cfg.LongTime < 0 {
		return nil, fmt.Errorf("%w: dispenser delays cannot be negative", driver.ErrValidation)
	}
	if len(cfg.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate ports", driver.ErrValidation)
	}

	dl := utils.NewDeviceLogger(logger, cfg.ID, string(model.FamilyDispenser))
	d := &Driver{
		cfg:       cfg,
		sess:      session.New(cfg.ID, model.FamilyDispenser, cfg.Opener, cfg.Candidates, dl),
		lastError: crt.ErrorCode{Code: "DefaultError", Message: "DefaultError"},
	}
	d.sm = session.NewMachine(StateIdle, transitions, map[State]session.Action{
		StateConnect:     d.stConnect,
		StateInit:        d.stInit,
		StateWait:        d.stWait,
		StateMovingMotor: d.stMovingMotor,
		StateHandingCard: d.stHandingCard,
		StateError:       d.stError,
	})
	d.sm.OnTransition(func(from State, on Event, to State) {
		d.sess.Logger.LogTransition(string(from), string(on), string(to))
		d.sess.Track(to.Lifecycle(), string(to))
	})
	return d, nil
}

var transitions = []session.Transition[State, Event]{
	{From: StateIdle, On: EvAny, To: StateConnect},
	{From: StateConnect, On: EvSuccessConn, To: StateInit},
	{From: StateConnect, On: EvError, To: StateError},
	{From: StateInit, On: EvSuccessInit, To: StateWait},
	{From: StateInit, On: EvError, To: StateError},
	{From: StateWait, On: EvCallDispensing, To: StateMovingMotor},
	{From: StateWait, On: EvWait, To: StateWait},
	{From: StateWait, On: EvCardInGate, To: StateHandingCard},
	{From: StateWait, On: EvError, To: StateError},
	{From: StateMovingMotor, On: EvCardInGate, To: StateHandingCard},
	{From: StateMovingMotor, On: EvFinish, To: StateWait},
	{From: StateMovingMotor, On: EvError, To: StateError},
	{From: StateHandingCard, On: EvFinish, To: StateWait},
	{From: StateHandingCard, On: EvError, To: StateError},
	{From: StateError, On: EvReset, To: StateIdle},
}

func (d *Driver) ID() string                 { return d.cfg.ID }
func (d *Driver) Family() model.DeviceFamily { return model.FamilyDispenser }
func (d *Driver) State() string              { return string(d.sm.State()) }
func (d *Driver) Lifecycle() model.Lifecycle { return d.sm.State().Lifecycle() }

func (d *Driver) OnLifecycle(fn func(model.LifecycleChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess.OnLifecycle(fn)
}

func (d *Driver) ObserveExchanges(fn func(time.Duration, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess.Observe(fn)
}

func (d *Driver) Port() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.Port()
}

func (d *Driver) HealthMetrics() driver.HealthMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.Health()
}

// GetDispenserFlags returns the flags of the last status reply
func (d *Driver) GetDispenserFlags() driver.DispenserFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status.Flags()
}

// LastError returns the last failure the dispenser reported
func (d *Driver) LastError() crt.ErrorCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}

func (d *Driver) fail(ctx context.Context) {
	if d.sm.Can(EvError) {
		d.sm.Fire(ctx, EvError)
	}
}

func (d *Driver) live() bool {
	s := d.sm.State()
	return d.sess.Link != nil && s != StateIdle && s != StateError
}

// Connect scans the candidate ports, initializes the dispenser and
// reports its stock
func (d *Driver) Connect(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if d.live() {
		return d.sess.Done(model.CommandConnect, start, driver.Response(CodeAlreadyConnected, msgAlreadyConnected))
	}
	return d.sess.Done(model.CommandConnect, start, d.connect(ctx))
}

func (d *Driver) connect(ctx context.Context) driver.CommandResponse {
	d.sm.Reset()
	d.track()

	if r, _ := d.sm.Fire(ctx, EvAny); r != 0 {
		d.sm.Reset()
		d.track()
		return respond(CodePortNotFound)
	}

	var resp driver.CommandResponse
	if r, _ := d.sm.Fire(ctx, EvSuccessConn); r != 0 {
		resp = respond(CodeNotInitialized)
	} else {
		switch r, _ := d.sm.Fire(ctx, EvSuccessInit); r {
		case resultOK:
			return d.checkCodes()
		case resultRefused:
			return failure(d.lastError)
		default:
			resp = respond(CodeNotChecked)
		}
	}
	d.fail(ctx)
	return resp
}

// CheckDevice asks for the status without leaving the current state
func (d *Driver) CheckDevice(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()
	return d.sess.Done(model.CommandCheckDevice, start, d.checkDevice(ctx))
}

func (d *Driver) checkDevice(ctx context.Context) driver.CommandResponse {
	var resp driver.CommandResponse
	switch d.sm.Run(ctx, StateWait) {
	case resultOK:
		return d.checkCodes()
	case resultRefused:
		resp = failure(d.lastError)
	default:
		resp = respond(CodeNoAnswer)
	}
	d.fail(ctx)
	return resp
}

// readable reports whether a status check produced flags
func readable(resp driver.CommandResponse) bool {
	return !resp.In(CodeFailure, CodeNoAnswer)
}

// StartReader readies the dispenser for a card process: it connects when
// needed and reports the stock
func (d *Driver) StartReader(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if d.sm.State() == StateWait {
		return d.sess.Done(model.CommandStartReader, start, d.checkDevice(ctx))
	}
	return d.sess.Done(model.CommandStartReader, start, d.connect(ctx))
}

// StopReader ends a card process in progress, or checks the device
func (d *Driver) StopReader(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	switch d.sm.State() {
	case StateMovingMotor, StateHandingCard:
		return d.sess.Done(model.CommandStopReader, start, d.endProcess(ctx))
	}
	return d.sess.Done(model.CommandStopReader, start, d.checkDevice(ctx))
}

// DispenseCard moves one card to the gate
func (d *Driver) DispenseCard(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	resp := d.dispense(ctx)
	if resp.In(CodeFailure, CodeJammed, CodeNoAnswer, CodeDispenseJammed, CodeCardUnknown) {
		d.fail(ctx)
	}
	return d.sess.Done(model.CommandDispenseCard, start, resp)
}

func (d *Driver) dispense(ctx context.Context) driver.CommandResponse {
	stocked := []int{CodeFull, CodeSomeCards, CodeRecycleFullFull, CodeRecycleFullSome}

	if d.sm.State() != StateWait {
		if resp := d.connect(ctx); !resp.In(stocked...) {
			return resp
		}
	}

	resp := d.checkDevice(ctx)
	switch {
	case resp.In(CodeRecycleFullEmpty, CodeEmpty):
		return respond(CodeNoCards)
	case !resp.In(stocked...):
		return resp
	}

	r, _ := d.sm.Fire(ctx, EvCallDispensing)
	switch r {
	case resultOK:
		flags := d.status.Flags()
		switch {
		case flags.RFICCardInGate:
			return respond(CodeDispenseJammed)
		case flags.CardInGate:
			return respond(CodeDispensed)
		default:
			return respond(CodeCardTaken)
		}
	case resultRefused:
		return failure(d.lastError)
	case actionNoCards:
		return respond(CodeNoCards)
	}

	for i := 0; i < d.cfg.MaxInitAttempts; i++ {
		if check := d.checkDevice(ctx); readable(check) {
			flags := d.status.Flags()
			switch {
			case flags.CardInGate:
				return respond(CodeDispensedNoisy)
			case flags.RFICCardInGate:
				return respond(CodeDispenseJammed)
			}
			return respond(CodeCardUnknown)
		}
	}
	return respond(CodeCardUnknown)
}

// RecycleCard returns a card waiting in the gate to the recycling box
func (d *Driver) RecycleCard(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	resp := d.recycle(ctx)
	switch {
	case resp.In(CodeNotChecked, CodeNotInitialized, CodePortNotFound, CodeNoAnswer):
		resp = respond(CodeNoAnswer)
		d.fail(ctx)
	case resp.In(CodeRecycleFullFull, CodeRecycleFullSome, CodeRecycleFullEmpty):
		resp = respond(CodeRecycleBoxFull)
	}
	return d.sess.Done(model.CommandRecycleCard, start, resp)
}

func (d *Driver) recycle(ctx context.Context) driver.CommandResponse {
	if d.sm.State() != StateMovingMotor {
		if resp := d.connect(ctx); !resp.In(CodeFull, CodeSomeCards, CodeCardInGate, CodeEmpty) {
			return resp
		}
	}

	resp := d.checkDevice(ctx)
	if !readable(resp) {
		return resp
	}

	flags := d.status.Flags()
	switch {
	case flags.RFICCardInGate:
		return respond(CodeJammed)
	case flags.RecyclingBoxFull:
		return respond(CodeRecycleBoxFull)
	case !flags.CardInGate:
		return respond(CodeNothingToRecycle)
	}

	r, _ := d.sm.Fire(ctx, EvCardInGate)
	switch r {
	case resultOK:
		flags = d.status.Flags()
		switch {
		case flags.RFICCardInGate:
			return respond(CodeRecycleJammed)
		case flags.CardInGate:
			return respond(CodeRecycleInGate)
		}
		return respond(CodeRecycled)
	case actionNoCards:
		return respond(CodeNothingToRecycle)
	case resultRefused:
		return recycleFailure(d.lastError)
	}

	for i := 0; i < d.cfg.MaxInitAttempts; i++ {
		if check := d.checkDevice(ctx); readable(check) {
			flags = d.status.Flags()
			switch {
			case flags.CardInGate:
				return respond(CodeRecycleInGate)
			case flags.RFICCardInGate:
				return respond(CodeRecycleJammed)
			}
			return respond(CodeRecycleUnknown)
		}
	}
	return respond(CodeRecycleUnknown)
}

// EndProcess closes a dispense or recycle and reports the stock. Outside
// a card process it reconnects.
func (d *Driver) EndProcess(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	switch d.sm.State() {
	case StateMovingMotor, StateHandingCard:
		return d.sess.Done(model.CommandEndProcess, start, d.endProcess(ctx))
	}
	return d.sess.Done(model.CommandEndProcess, start, d.connect(ctx))
}

func (d *Driver) endProcess(ctx context.Context) driver.CommandResponse {
	r, _ := d.sm.Fire(ctx, EvFinish)
	switch r {
	case resultOK:
		return d.checkCodes()
	case resultRefused:
		return failure(d.lastError)
	}
	return respond(CodeNoAnswer)
}

// TestStatus checks the device and reports the outcome with the last
// failure code
func (d *Driver) TestStatus(ctx context.Context) driver.DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := d.checkDevice(ctx)
	st := driver.DeviceStatus{
		Version:        driver.StatusVersion,
		Device:         10,
		ErrorCode:      resp.StatusCode,
		Message:        resp.Message,
		AdditionalInfo: "LastErrorCode: " + d.lastError.Code + " - LastErrorMsg: " + d.lastError.Message,
		ErrorType:      1,
		Priority:       1,
	}
	switch {
	case resp.In(CodeFailure, CodeJammed, CodeNoAnswer):
		st.ErrorType = 0
	case resp.In(CodeFull, CodeSomeCards) && d.sm.State() != StateError:
		st.Priority = 0
	}
	h := d.sess.Health()
	d.sess.Logger.LogHealth(st.ErrorCode, h.AverageLatency, 1-h.SuccessRate())
	return st
}

// Fault moves the session to ERROR and closes the port
func (d *Driver) Fault(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess.Logger.Warn("Session faulted", zap.String("reason", reason))
	d.sm.Set(StateError)
	d.sess.Drop()
	d.track()
}

// Close releases the port and returns the machine to IDLE
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess.Drop()
	d.sm.Reset()
	d.track()
	return nil
}

func (d *Driver) track() {
	s := d.sm.State()
	d.sess.Track(s.Lifecycle(), string(s))
}

func (d *Driver) checkCodes() driver.CommandResponse {
	f := d.status.Flags()
	switch {
	case f.RFICCardInGate:
		return respond(CodeJammed)
	case f.CardInGate:
		return respond(CodeCardInGate)
	case f.RecyclingBoxFull && f.DispenserFull:
		return respond(CodeRecycleFullFull)
	case f.RecyclingBoxFull && f.CardsInDispenser:
		return respond(CodeRecycleFullSome)
	case f.RecyclingBoxFull:
		return respond(CodeRecycleFullEmpty)
	case f.DispenserFull:
		return respond(CodeFull)
	case f.CardsInDispenser:
		return respond(CodeSomeCards)
	}
	return respond(CodeEmpty)
}
