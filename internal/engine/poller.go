// internal/engine/poller.go
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

// Publisher receives every event worth delivering to listeners
type Publisher interface {
	Publish(e model.DeviceEvent)
}

// CoinPayload is attached to EventCoin events
type CoinPayload struct {
	Event     int              `json:"event"`
	Coin      int              `json:"coin"`
	Remaining int              `json:"remaining"`
	LostCoins driver.LostCoins `json:"lost_coins,omitempty"`
}

// BillPayload is attached to EventBill events. Forced marks a note that
// could not be returned and stays in the cash box.
type BillPayload struct {
	Bill   int              `json:"bill"`
	Escrow nv10.EscrowState `json:"escrow,omitempty"`
	Forced bool             `json:"forced,omitempty"`
}

// escrowed is implemented by bill drivers holding notes in escrow
type escrowed interface {
	Escrow() nv10.EscrowSnapshot
}

// Poller runs poll cycles against one device. A cycle and the publication
// of its outcome happen under one lock so listeners see events in the
// order they were decoded.
type Poller struct {
	mu          sync.Mutex
	dev         driver.CashDriver
	pub         Publisher
	maxFailures int
	failures    int
	logger      *zap.Logger
}

func newPoller(dev driver.CashDriver, pub Publisher, maxFailures int, logger *zap.Logger) *Poller {
	return &Poller{
		dev:         dev,
		pub:         pub,
		maxFailures: maxFailures,
		logger:      logger.With(zap.String("device_id", dev.ID()), zap.String("family", string(dev.Family()))),
	}
}

// Pollable reports whether the device family has a poll loop
func Pollable(dev driver.CashDriver) bool {
	switch dev.(type) {
	case driver.CoinValidator, driver.BillValidator:
		return true
	}
	return false
}

// Coin runs one coin poll cycle
func (p *Poller) Coin(ctx context.Context) (driver.CoinResult, Outcome, error) {
	cv, ok := p.dev.(driver.CoinValidator)
	if !ok {
		return driver.CoinResult{}, Outcome{}, fmt.Errorf("%w: %s is not a coin validator", driver.ErrValidation, p.dev.ID())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res := cv.GetCoin(ctx)
	v, publish := coinVerdict(res.StatusCode)

	payload := CoinPayload{Event: res.Event, Coin: res.Coin, Remaining: res.Remaining, LostCoins: res.LostCoins}
	if res.Remaining > 1 {
		if payload.LostCoins == nil {
			payload.LostCoins = cv.GetLostCoins()
		}
		p.logger.Warn("Coins unaccounted for",
			zap.Int("remaining", res.Remaining),
			zap.String("lost_total", payload.LostCoins.Total().String()),
		)
	}

	out := p.settle(res.CommandResponse, v, publish, model.EventCoin, payload)
	return res, out, nil
}

// Bill runs one bill poll cycle and rejects a note whose escrow window
// has elapsed
func (p *Poller) Bill(ctx context.Context) (driver.Bill, Outcome, error) {
	bv, ok := p.dev.(driver.BillValidator)
	if !ok {
		return driver.Bill{}, Outcome{}, fmt.Errorf("%w: %s is not a bill validator", driver.ErrValidation, p.dev.ID())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res := bv.GetBill(ctx)
	v, publish := billVerdict(res.StatusCode)

	payload := BillPayload{Bill: res.Bill}
	var snap nv10.EscrowSnapshot
	if e, ok := p.dev.(escrowed); ok {
		snap = e.Escrow()
		payload.Escrow = snap.State
	}

	out := p.settle(res.CommandResponse, v, publish, model.EventBill, payload)
	if out.Halted() || !snap.Expired {
		return res, out, nil
	}

	p.logger.Info("Escrow window elapsed, returning note", zap.Int("bill", snap.Bill))
	_, rej, err := p.reject(ctx, bv, snap.Bill)
	if err != nil {
		// the note left escrow between the poll and the reject
		return res, out, nil
	}
	if rej.TearsDown() {
		return res, rej, nil
	}
	return res, out, nil
}

// Reject returns the note held in escrow on behalf of a caller. A note the
// validator keeps is published as a forced credit and the outcome tears
// the session down.
func (p *Poller) Reject(ctx context.Context) (driver.CommandResponse, Outcome, error) {
	bv, ok := p.dev.(driver.BillValidator)
	if !ok {
		return driver.CommandResponse{}, Outcome{}, fmt.Errorf("%w: %s is not a bill validator", driver.ErrValidation, p.dev.ID())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var bill int
	if e, ok := p.dev.(escrowed); ok {
		bill = e.Escrow().Bill
	}
	return p.reject(ctx, bv, bill)
}

// reject must be called with p.mu held
func (p *Poller) reject(ctx context.Context, bv driver.BillValidator, bill int) (driver.CommandResponse, Outcome, error) {
	resp, err := bv.Reject(ctx)
	if err != nil {
		return resp, Outcome{}, err
	}
	if resp.StatusCode == nv10.CodeReturned {
		ev := p.emit(model.EventBill, resp, BillPayload{Bill: bill, Escrow: nv10.EscrowRejected})
		return resp, Outcome{Code: resp.StatusCode, Event: ev, Publish: true, verdict: carryOn}, nil
	}

	p.logger.Error("Note could not be returned, keeping it", zap.Int("bill", bill))
	forced := p.emit(model.EventBill, resp, BillPayload{Bill: bill, Escrow: nv10.EscrowStacked, Forced: true})
	return resp, Outcome{Code: resp.StatusCode, Event: forced, Publish: true, verdict: teardown}, nil
}

// Poll runs one cycle for whatever family the device belongs to
func (p *Poller) Poll(ctx context.Context) (Outcome, error) {
	switch p.dev.(type) {
	case driver.CoinValidator:
		_, out, err := p.Coin(ctx)
		return out, err
	case driver.BillValidator:
		_, out, err := p.Bill(ctx)
		return out, err
	}
	return Outcome{}, fmt.Errorf("%w: %s has no poll cycle", driver.ErrValidation, p.dev.ID())
}

// settle publishes the outcome and applies the failure budget
func (p *Poller) settle(resp driver.CommandResponse, v verdict, publish bool, t model.EventType, payload interface{}) Outcome {
	out := Outcome{Code: resp.StatusCode, verdict: v, Publish: publish}
	if publish {
		out.Event = p.emit(t, resp, payload)
	}

	if v != retry {
		p.failures = 0
		return out
	}

	p.failures++
	p.logger.Warn("Poll failed",
		zap.Int("status_code", resp.StatusCode),
		zap.Int("consecutive", p.failures),
		zap.Int("budget", p.maxFailures),
	)
	if p.failures < p.maxFailures {
		return out
	}

	p.failures = 0
	out.verdict = teardown
	out.Publish = true
	out.Event = p.emit(model.EventFault, resp, nil)
	return out
}

func (p *Poller) emit(t model.EventType, resp driver.CommandResponse, payload interface{}) model.DeviceEvent {
	e := model.NewDeviceEvent(p.dev.ID(), p.dev.Family(), t, resp.StatusCode, resp.Message, payload)
	p.pub.Publish(e)
	return e
}
