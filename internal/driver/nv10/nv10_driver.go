// internal/driver/nv10/nv10_driver.go
package nv10

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/codec/ssp"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/internal/session"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

// Config holds the construction options of a bill validator session
type Config struct {
	ID            string
	Opener        protocol.Opener
	Candidates    []string
	Settle        time.Duration
	EscrowTimeout time.Duration
	InhibitMask   int
}

// Driver drives an NV10 note validator over SSP
type Driver struct {
	mu      sync.Mutex
	cfg     Config
	sess    *session.Session
	sm      *session.Machine[State, Event]
	seq     ssp.Sequencer
	prevSeq int
	escrow  *Escrow
	inhibit int

	// last reply
	length     int
	code       ssp.Code
	event      ssp.Code
	adEvent    ssp.Code
	lastReject ssp.Code
	channel    int
	billValue  int

	reading bool
	last    driver.Bill
}

// New creates a disconnected bill validator driver
func New(cfg Config, logger *zap.Logger) (*Driver, error) {
	if cfg.InhibitMask < 0 || cfg.InhibitMask > 0xFF {
		return nil, fmt.Errorf("%w: inhibit mask must be 0-255", driver.ErrValidation)
	}
	if cfg.EscrowTimeout <= 0 {
		return nil, fmt.Errorf("%w: escrow timeout must be positive", driver.ErrValidation)
	}
	if len(cfg.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate ports", driver.ErrValidation)
	}

	dl := utils.NewDeviceLogger(logger, cfg.ID, string(model.FamilyNV10))
	d := &Driver{
		cfg:        cfg,
		sess:       session.New(cfg.ID, model.FamilyNV10, cfg.Opener, cfg.Candidates, dl),
		prevSeq:    -1,
		escrow:     NewEscrow(cfg.EscrowTimeout),
		inhibit:    cfg.InhibitMask,
		code:       ssp.LookupResponse(ssp.RespOK),
		event:      ssp.LookupEvent(ssp.RespOK),
		lastReject: ssp.LookupLastReject(0),
	}
	d.sm = session.NewMachine(StateIdle, transitions, map[State]session.Action{
		StateConnect: d.stConnect,
		StateDisable: d.stDisable,
		StateEnable:  d.stEnable,
		StatePolling: d.stPolling,
		StateCheck:   d.stCheck,
		StateError:   d.stError,
	})
	d.sm.OnTransition(func(from State, on Event, to State) {
		d.sess.Logger.LogTransition(string(from), string(on), string(to))
		d.sess.Track(to.Lifecycle(), string(to))
	})
	return d, nil
}

var transitions = []session.Transition[State, Event]{
	{From: StateIdle, On: EvAny, To: StateConnect},
	{From: StateConnect, On: EvSuccessConn, To: StateDisable},
	{From: StateConnect, On: EvError, To: StateError},
	{From: StateDisable, On: EvReady, To: StateEnable},
	{From: StateDisable, On: EvError, To: StateError},
	{From: StateEnable, On: EvCallPolling, To: StatePolling},
	{From: StateEnable, On: EvError, To: StateError},
	{From: StatePolling, On: EvFinishPoll, To: StateCheck},
	{From: StatePolling, On: EvPoll, To: StatePolling},
	{From: StatePolling, On: EvError, To: StateError},
	{From: StateCheck, On: EvLoop, To: StateDisable},
	{From: StateCheck, On: EvError, To: StateError},
	{From: StateError, On: EvReset, To: StateIdle},
}

func (d *Driver) ID() string                 { return d.cfg.ID }
func (d *Driver) Family() model.DeviceFamily { return model.FamilyNV10 }
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

// Escrow returns the note held by the validator, if any
func (d *Driver) Escrow() EscrowSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.escrow.Snapshot()
}

// fail moves to ERROR when the current state allows it
func (d *Driver) fail(ctx context.Context) {
	if d.sm.Can(EvError) {
		d.sm.Fire(ctx, EvError)
	}
}

func (d *Driver) live() bool {
	s := d.sm.State()
	return d.sess.Link != nil && s != StateIdle && s != StateError
}

// Connect scans the candidate ports, synchronises and disables the validator
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
	if r, _ := d.sm.Fire(ctx, EvSuccessConn); r != 0 {
		d.fail(ctx)
		return respond(CodeNoAnswer)
	}
	return respond(CodeSynced)
}

// CheckDevice reads the last reject code and polls once. While reading
// only the last reject code is read so no note event is consumed.
func (d *Driver) CheckDevice(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	var check int
	if d.sm.State() == StatePolling {
		if !d.readLastReject(ctx) {
			check = 1
		}
	} else {
		check = d.sm.Run(ctx, StateCheck)
	}

	resp := respond(CodeChecked)
	if check != 0 {
		d.fail(ctx)
		resp = respond(CodeNoAnswer)
	}
	return d.sess.Done(model.CommandCheckDevice, start, resp)
}

// StartReader enables the validator and starts polling
func (d *Driver) StartReader(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	resp := d.startReader(ctx)
	if !resp.In(CodeReady, CodeRestarted) {
		d.fail(ctx)
	}
	return d.sess.Done(model.CommandStartReader, start, resp)
}

func (d *Driver) startReader(ctx context.Context) driver.CommandResponse {
	switch d.sm.State() {
	case StatePolling:
		return respond(CodeRestarted)
	case StateDisable:
	default:
		if resp := d.connect(ctx); resp.StatusCode != CodeSynced {
			return resp
		}
	}

	d.escrow.Reset()
	d.reading = false
	d.last = driver.Bill{}

	if r, _ := d.sm.Fire(ctx, EvReady); r != 0 {
		return respond(CodeNoAnswer)
	}
	if r, _ := d.sm.Fire(ctx, EvCallPolling); r != resultOK {
		return respond(CodeNoAnswer)
	}
	return respond(CodeReady)
}

// GetBill polls once and reports the note event. An informational code
// equal to the previous answer is reported as no news.
func (d *Driver) GetBill(ctx context.Context) driver.Bill {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	b := d.getBill(ctx)
	if b.StatusCode == d.last.StatusCode && b.StatusCode >= 300 && b.StatusCode < 400 {
		b = bill(CodeNoEvent, 0)
	} else {
		d.last = b
	}
	d.escrow.Observe(b)
	d.sess.Done(model.CommandGetBill, start, b.CommandResponse)
	return b
}

func (d *Driver) getBill(ctx context.Context) driver.Bill {
	if d.sm.State() != StatePolling {
		return bill(CodeNotStarted, 0)
	}

	poll, _ := d.sm.Fire(ctx, EvPoll)
	switch poll {
	case resultOK, resultRefused:
		return d.interpret(ctx)
	case resultRepeated:
		return bill(CodeRepeated, 0)
	default:
		return bill(CodeNoAnswer, 0)
	}
}

func (d *Driver) interpret(ctx context.Context) driver.Bill {
	switch {
	case d.code.Code != ssp.RespOK:
		if d.code.Code == ssp.RespCannotProcess {
			return bill(CodeNoNote, 0)
		}
		return commandFailed(d.code.Message)
	case d.length == 1:
		return bill(CodeNoEvent, 0)
	}

	value := d.billValue
	switch d.event.Code {
	case ssp.EventRead:
		if d.length < 3 {
			value = 0
		}
		if value == 0 {
			if d.reading {
				return bill(CodeSequence, 0)
			}
			return bill(CodeReading, 0)
		}
		if d.channel < 1 || d.channel > 7 {
			d.reading = false
			return bill(CodeUnknownChannel, value)
		}
		if d.inhibit&(1<<(d.channel-1)) == 0 {
			d.reading = false
			if d.command(ctx, ssp.CmdReject) {
				return bill(CodeInhibited, value)
			}
			return bill(CodeNoAnswer, value)
		}
		d.reading = true
		return bill(CodeNoteDetected, value)

	case ssp.EventRejecting:
		d.reading = false
		return bill(CodeRejecting, 0)

	case ssp.EventRejected:
		d.reading = false
		return bill(CodeRejected, 0)

	case ssp.EventStacking:
		d.reading = true
		return bill(CodeStacking, value)

	case ssp.EventStacked:
		if !d.reading {
			return bill(CodeStackedNoNews, 0)
		}
		d.reading = false
		if value > 0 {
			return bill(CodeStacked, value)
		}
		return bill(CodeUnknownValue, 0)

	case ssp.EventCredit:
		switch d.length {
		case 3:
			return bill(CodeCredited, value)
		case 4:
			if d.adEvent.Code == ssp.EventStacking || d.adEvent.Code == ssp.EventStacked {
				if !d.reading {
					return bill(CodeNoEvent, 0)
				}
				d.reading = false
				return bill(CodeCreditedStacked, value)
			}
		}
		d.reading = false
		return creditedWithError(value, d.adEvent.Message)

	default:
		if d.length != 3 {
			value = 0
		}
		return severe(value, d.event.Message)
	}
}

// ModifyChannels sets the host-side inhibit mask. A set bit accepts the
// note on that channel; inhibited notes are returned when read.
func (d *Driver) ModifyChannels(ctx context.Context, mask int) (driver.CommandResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if mask < 0 || mask > 0xFF {
		return driver.CommandResponse{}, fmt.Errorf("%w: inhibit mask must be 0-255", driver.ErrValidation)
	}
	if d.sm.State() == StatePolling {
		return driver.CommandResponse{}, fmt.Errorf("%w: cannot modify channels while reading", driver.ErrValidation)
	}
	d.inhibit = mask
	return d.sess.Done(model.CommandModifyChannels, start, respond(CodeChannels)), nil
}

// Reject returns the note held in escrow. When the note cannot be
// returned it stays in the cashbox and the session is faulted.
func (d *Driver) Reject(ctx context.Context) (driver.CommandResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if !d.escrow.Pending() {
		return driver.CommandResponse{}, ErrNotInEscrow
	}

	d.reading = false
	if d.command(ctx, ssp.CmdReject) {
		d.escrow.Observe(bill(CodeReturned, 0))
		return d.sess.Done(model.CommandReject, start, respond(CodeReturned)), nil
	}

	d.escrow.Observe(driver.Bill{CommandResponse: respond(CodeStacked), Bill: d.escrow.bill})
	d.fail(ctx)
	return d.sess.Done(model.CommandReject, start, respond(CodeNoAnswer)), nil
}

// StopReader leaves POLLING through a check and disables the validator
func (d *Driver) StopReader(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	resp := d.stopReader(ctx)
	if resp.In(CodeNotChecked, CodeNotDisabled) {
		d.fail(ctx)
	}
	return d.sess.Done(model.CommandStopReader, start, resp)
}

func (d *Driver) stopReader(ctx context.Context) driver.CommandResponse {
	if d.sm.State() != StatePolling {
		return respond(CodeNotReading)
	}
	if r, _ := d.sm.Fire(ctx, EvFinishPoll); r != 0 {
		return respond(CodeNotChecked)
	}
	if r, _ := d.sm.Fire(ctx, EvLoop); r != 0 {
		return driver.Response(CodeNotDisabled, msgNotDisabled)
	}
	return respond(CodeStopped)
}

// TestStatus reports the last refused command, or the last event and
// reject reason
func (d *Driver) TestStatus(ctx context.Context) driver.DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := driver.DeviceStatus{Version: driver.StatusVersion, Device: 1}
	if d.code.Code != ssp.RespOK {
		st.ErrorType = 0
		st.ErrorCode = d.code.Code
		st.Message = d.code.Message
		st.AdditionalInfo = fmt.Sprintf("LastEventCode: %d LastEventMessage: %s", d.event.Code, d.event.Message)
		st.Priority = 1
	} else {
		st.ErrorType = 1
		st.ErrorCode = d.event.Code
		st.Message = d.event.Message
		st.AdditionalInfo = fmt.Sprintf("LastRejectCode: %d LastRejectMessage: %s", d.lastReject.Code, d.lastReject.Message)
		if d.event.Priority == 1 || d.lastReject.Priority == 1 {
			st.Priority = 1
		}
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
	d.escrow.Reset()
	d.track()
}

// Close disables the validator when it is reading and releases the port
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess.Link != nil && d.sm.State() == StatePolling {
		d.command(context.Background(), ssp.CmdDisable)
	}
	d.sess.Drop()
	d.sm.Reset()
	d.track()
	return nil
}

func (d *Driver) track() {
	s := d.sm.State()
	d.sess.Track(s.Lifecycle(), string(s))
}
