// internal/driver/azkoyen/azkoyen_driver.go
package azkoyen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/codec/cctalk"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/internal/session"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

// Config holds the construction options of a coin validator session
type Config struct {
	ID             string
	Opener         protocol.Opener
	Candidates     []string
	Settle         time.Duration
	WarnToCritical int
	MaxCritical    int
}

// Driver drives an Azkoyen/Pelicano ccTalk coin validator
type Driver struct {
	mu     sync.Mutex
	cfg    Config
	sess   *session.Session
	sm     *session.Machine[State, Event]
	ledger *Ledger

	// last device answers
	counter   int
	last      outcome
	lastError cctalk.PollError
	fault     cctalk.Fault
	opto      cctalk.OptoState

	// reader bookkeeping
	prev          int
	deck          int
	warn          int
	critical      int
	flagCritical  bool
	flagCritical2 bool
}

// New creates a disconnected coin validator driver
func New(cfg Config, logger *zap.Logger) (*Driver, error) {
	if cfg.WarnToCritical <= 0 || cfg.MaxCritical <= 0 {
		return nil, fmt.Errorf("%w: coin thresholds must be positive", driver.ErrValidation)
	}
	if len(cfg.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate ports", driver.ErrValidation)
	}

	dl := utils.NewDeviceLogger(logger, cfg.ID, string(model.FamilyAzkoyen))
	d := &Driver{
		cfg:       cfg,
		sess:      session.New(cfg.ID, model.FamilyAzkoyen, cfg.Opener, cfg.Candidates, dl),
		ledger:    NewLedger(),
		lastError: cctalk.LookupPollError(0),
		fault:     cctalk.LookupFault(0),
	}
	d.sm = session.NewMachine(StateIdle, transitions, map[State]session.Action{
		StateConnect:  d.stConnect,
		StateCheck:    d.stCheck,
		StateWaitPoll: d.stWaitPoll,
		StatePolling:  d.stPolling,
		StateReset:    d.stReset,
		StateError:    d.stError,
	})
	d.sm.OnTransition(func(from State, on Event, to State) {
		d.sess.Logger.LogTransition(string(from), string(on), string(to))
		d.sess.Track(to.Lifecycle(), string(to))
	})
	return d, nil
}

var transitions = []session.Transition[State, Event]{
	{From: StateIdle, On: EvAny, To: StateConnect},
	{From: StateConnect, On: EvSuccessConn, To: StateCheck},
	{From: StateConnect, On: EvError, To: StateError},
	{From: StateCheck, On: EvCallPolling, To: StateWaitPoll},
	{From: StateCheck, On: EvCheck, To: StateCheck},
	{From: StateCheck, On: EvError, To: StateError},
	{From: StateWaitPoll, On: EvReady, To: StatePolling},
	{From: StateWaitPoll, On: EvError, To: StateError},
	{From: StatePolling, On: EvFinishPoll, To: StateReset},
	{From: StatePolling, On: EvPoll, To: StatePolling},
	{From: StatePolling, On: EvError, To: StateError},
	{From: StateReset, On: EvLoop, To: StateCheck},
	{From: StateReset, On: EvAny, To: StateReset},
	{From: StateReset, On: EvError, To: StateError},
	{From: StateError, On: EvAny, To: StateIdle},
}

func (d *Driver) ID() string                 { return d.cfg.ID }
func (d *Driver) Family() model.DeviceFamily { return model.FamilyAzkoyen }

// State returns the machine state name
func (d *Driver) State() string { return string(d.sm.State()) }

// Lifecycle returns the session lifecycle derived from the machine state
func (d *Driver) Lifecycle() model.Lifecycle { return d.sm.State().Lifecycle() }

// OnLifecycle installs the lifecycle hook
func (d *Driver) OnLifecycle(fn func(model.LifecycleChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess.OnLifecycle(fn)
}

// ObserveExchanges installs a hook timing every exchange
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

// Connect scans the candidate ports and checks the validator found
func (d *Driver) Connect(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if d.live() {
		return d.sess.Done(model.CommandConnect, start, driver.Response(CodeAlreadyConnected, msgAlreadyConnected))
	}
	return d.sess.Done(model.CommandConnect, start, d.connect(ctx))
}

func (d *Driver) live() bool {
	s := d.sm.State()
	return d.sess.Link != nil && s != StateIdle && s != StateError
}

func (d *Driver) connect(ctx context.Context) driver.CommandResponse {
	d.sm.Reset()
	d.track()
	if r, _ := d.sm.Fire(ctx, EvAny); r != 0 {
		d.sm.Reset()
		d.track()
		return respond(CodePortNotFound)
	}
	check, _ := d.sm.Fire(ctx, EvSuccessConn)
	return d.checkCodes(check)
}

// CheckDevice runs the health check without leaving the current state
func (d *Driver) CheckDevice(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()
	return d.sess.Done(model.CommandCheckDevice, start, d.checkCodes(d.sm.Run(ctx, StateCheck)))
}

// StartReader resets the validator, enables every channel and starts polling
func (d *Driver) StartReader(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()
	return d.sess.Done(model.CommandStartReader, start, d.startReader(ctx))
}

func (d *Driver) startReader(ctx context.Context) driver.CommandResponse {
	d.deck, d.warn, d.critical = 0, 0, 0
	d.flagCritical, d.flagCritical2 = false, false

	switch d.sm.State() {
	case StateCheck:
	case StatePolling:
		if d.counter <= 1 {
			d.prev = d.counter
			return respond(CodeRestarted)
		}
		if r, _ := d.sm.Fire(ctx, EvFinishPoll); r != 0 {
			return d.checkCodes(1)
		}
		check, _ := d.sm.Fire(ctx, EvLoop)
		if resp := d.checkCodes(check); resp.StatusCode != CodeOK {
			return resp
		}
	default:
		if resp := d.connect(ctx); resp.StatusCode != CodeOK {
			return resp
		}
	}

	if r, _ := d.sm.Fire(ctx, EvCallPolling); r != 0 {
		return respond(CodeNoAnswer)
	}
	poll, _ := d.sm.Fire(ctx, EvReady)
	switch {
	case (poll == 0 || poll == -2) && d.counter <= 1:
		return respond(CodeReady)
	case d.counter > 1:
		return respond(CodeNotReset)
	default:
		return respond(CodeNoAnswer)
	}
}

// GetCoin polls the credit buffer once and reports the newest event
func (d *Driver) GetCoin(ctx context.Context) driver.CoinResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	res := d.getCoin(ctx)
	d.sess.Done(model.CommandGetCoin, start, res.CommandResponse)
	return res
}

func (d *Driver) getCoin(ctx context.Context) driver.CoinResult {
	if d.sm.State() != StatePolling {
		return driver.CoinResult{CommandResponse: respond(CodeNotStarted)}
	}

	poll, _ := d.sm.Fire(ctx, EvPoll)
	if poll != 0 && poll != -2 {
		return driver.CoinResult{CommandResponse: respond(CodeNoAnswer), Event: d.prev}
	}
	if d.counter == d.prev {
		return driver.CoinResult{CommandResponse: respond(CodeNoEvent), Event: d.prev}
	}

	out := d.last
	res := driver.CoinResult{Event: d.counter}
	if out.pending > 1 {
		res.Remaining = out.pending
		d.ledger.Record(out.batch)
		res.LostCoins = d.ledger.Batch()
	}
	d.prev = d.counter

	if poll == 0 {
		res.CommandResponse = respond(CodeCoin)
		if out.pending <= 1 {
			res.Coin = out.coin
		}
		d.deck, d.warn, d.critical = 0, 0, 0
		return res
	}

	e := d.lastError
	if e.Code == 1 {
		d.warn++
		res.CommandResponse = respond(CodeRejected)
		return res
	}

	if e.IsCritical() {
		d.critical++
	}
	if warnCodes[e.Code] {
		d.warn++
	}
	if e.Code == deckCode {
		d.deck++
	}
	if d.critical >= d.cfg.MaxCritical {
		d.flagCritical = true
	}
	if d.warn >= d.cfg.WarnToCritical || d.deck >= d.cfg.WarnToCritical {
		d.flagCritical2 = true
	}

	switch {
	case d.flagCritical:
		d.flagCritical2 = true
		res.CommandResponse = driver.Response(CodeCritical,
			fmt.Sprintf("Codigo: %d Mensaje: %s CC: Full WC: %d", e.Code, e.Message, d.warn))
		d.sm.Fire(ctx, EvError)
	case d.flagCritical2:
		res.CommandResponse = driver.Response(CodeWarnLimit,
			fmt.Sprintf("Codigo: %d Mensaje: %s CC: %d WC: Full", e.Code, e.Message, d.critical))
	default:
		res.CommandResponse = driver.Response(CodeCoinError,
			fmt.Sprintf("Codigo: %d Mensaje: %s CC: %d WC: %d", e.Code, e.Message, d.critical, d.warn))
	}
	return res
}

// GetLostCoins returns the last batch while reading, zero counts otherwise
func (d *Driver) GetLostCoins() driver.LostCoins {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sm.State() != StatePolling {
		return driver.NewLostCoins()
	}
	return d.ledger.Batch()
}

// LostCoinTotals returns every batch recorded since the last clean
func (d *Driver) LostCoinTotals() driver.LostCoins {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.Totals()
}

// StopReader leaves POLLING through a reset and a fresh check
func (d *Driver) StopReader(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()
	return d.sess.Done(model.CommandStopReader, start, d.stopReader(ctx))
}

func (d *Driver) stopReader(ctx context.Context) driver.CommandResponse {
	polling := d.sm.State() == StatePolling
	if d.flagCritical || d.flagCritical2 {
		if polling {
			d.sm.Fire(ctx, EvError)
		}
		return respond(CodeDepositFailed)
	}
	if !polling {
		return respond(CodeNotReading)
	}
	if r, _ := d.sm.Fire(ctx, EvFinishPoll); r != 0 {
		d.sm.Fire(ctx, EvError)
		return respond(CodeNotReset)
	}
	check, _ := d.sm.Fire(ctx, EvLoop)
	return d.checkCodes(check)
}

// ModifyChannels writes the inhibit masks. A set bit enables a channel.
func (d *Driver) ModifyChannels(ctx context.Context, mask1, mask2 int) (driver.CommandResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if mask1 < 0 || mask1 > 0xFF || mask2 < 0 || mask2 > 0xFF {
		return driver.CommandResponse{}, fmt.Errorf("%w: inhibit masks must be 0-255", driver.ErrValidation)
	}
	switch {
	case d.sm.State() == StatePolling:
		return driver.CommandResponse{}, fmt.Errorf("%w: cannot modify channels while reading", driver.ErrValidation)
	case !d.live():
		return driver.CommandResponse{}, fmt.Errorf("%w: validator not connected", driver.ErrValidation)
	}

	resp := respond(CodeChannels)
	if r := d.send(ctx, cctalk.ModifyInhibit(mask1, mask2)); r != 0 {
		resp = respond(CodeChannelsFailed)
	}
	return d.sess.Done(model.CommandModifyChannels, start, resp), nil
}

// ResetDevice resets the validator in place and checks its event counter
func (d *Driver) ResetDevice(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	resp := respond(CodeNotReset)
	if d.sm.Run(ctx, StateReset) == 0 {
		resp = respond(CodeReset)
	}
	return d.sess.Done(model.CommandResetDevice, start, resp)
}

// CleanDevice resets the validator, clears the ledger and the reader
// counters and leaves the session in CHECK
func (d *Driver) CleanDevice(ctx context.Context) driver.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	if d.sess.Link == nil {
		return d.sess.Done(model.CommandCleanDevice, start, respond(CodeNoAnswer))
	}
	if d.sm.Run(ctx, StateReset) != 0 {
		return d.sess.Done(model.CommandCleanDevice, start, respond(CodeNotReset))
	}

	d.ledger.Clear()
	d.prev = 0
	d.deck, d.warn, d.critical = 0, 0, 0
	d.flagCritical, d.flagCritical2 = false, false
	d.sm.Set(StateCheck)
	d.track()
	return d.sess.Done(model.CommandCleanDevice, start, respond(CodeReset))
}

// TestStatus reports the self-check fault, or the last polling error
func (d *Driver) TestStatus(ctx context.Context) driver.DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := driver.DeviceStatus{Version: driver.StatusVersion, Device: 1}
	if d.fault.Code != 0 {
		st.ErrorType = 0
		st.ErrorCode = d.fault.Code
		st.Message = d.fault.Message
		st.AdditionalInfo = fmt.Sprintf("ErrorCode: %d ECMensaje: %s", d.lastError.Code, d.lastError.Message)
		st.Priority = 1
	} else {
		st.ErrorType = 1
		st.ErrorCode = d.lastError.Code
		st.Message = d.lastError.Message
		st.AdditionalInfo = "FaultCode: OK"
		st.Priority = d.lastError.Critical
	}
	d.sess.Logger.LogHealth(st.ErrorCode, 0, 1-d.sess.Health().SuccessRate())
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

func (d *Driver) checkCodes(check int) driver.CommandResponse {
	switch check {
	case 0:
		return respond(CodeOK)
	case 2:
		switch {
		case d.opto.NotUsed:
			return respond(CodeOK)
		case d.opto.COSAlert:
			return respond(CodeCOSAlert)
		default:
			return respond(CodeFirmware)
		}
	default:
		switch {
		case d.opto.MeasureBlocked:
			return respond(CodeMeasureBlocked)
		case d.opto.OutBlocked:
			return respond(CodeOutBlocked)
		default:
			return respond(CodeNoAnswer)
		}
	}
}
