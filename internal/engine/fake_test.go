// internal/engine/fake_test.go
package engine

import (
	"context"
	"sync"

	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

type recorder struct {
	mu     sync.Mutex
	events []model.DeviceEvent
}

func (r *recorder) Publish(e model.DeviceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) codes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.StatusCode)
	}
	return out
}

func (r *recorder) last() model.DeviceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type base struct {
	mu     sync.Mutex
	id     string
	family model.DeviceFamily
	lc     model.Lifecycle
	fault  string
	polls  int
}

func (b *base) ID() string                 { return b.id }
func (b *base) Family() model.DeviceFamily { return b.family }
func (b *base) State() string              { return string(b.Lifecycle()) }
func (b *base) Port() string               { return "/dev/ttyFAKE0" }
func (b *base) Close() error               { return nil }

func (b *base) Lifecycle() model.Lifecycle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lc
}

func (b *base) setLifecycle(lc model.Lifecycle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lc = lc
}

func (b *base) Fault(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lc = model.LifecycleFaulted
	b.fault = reason
}

func (b *base) faulted() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fault
}

func (b *base) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func (b *base) Connect(context.Context) driver.CommandResponse     { return driver.Response(200, "") }
func (b *base) CheckDevice(context.Context) driver.CommandResponse { return driver.Response(200, "") }
func (b *base) StartReader(context.Context) driver.CommandResponse { return driver.Response(201, "") }
func (b *base) StopReader(context.Context) driver.CommandResponse  { return driver.Response(200, "") }
func (b *base) TestStatus(context.Context) driver.DeviceStatus     { return driver.DeviceStatus{} }
func (b *base) HealthMetrics() driver.HealthMetrics                { return driver.HealthMetrics{} }

type coinDevice struct {
	base
	script []driver.CoinResult
	lost   driver.LostCoins
}

func newCoinDevice(script ...driver.CoinResult) *coinDevice {
	return &coinDevice{
		base:   base{id: "coin", family: model.FamilyAzkoyen, lc: model.LifecycleReading},
		script: script,
		lost:   driver.NewLostCoins(),
	}
}

func coin(code, value int) driver.CoinResult {
	return driver.CoinResult{CommandResponse: driver.Response(code, "msg"), Coin: value}
}

func (c *coinDevice) GetCoin(context.Context) driver.CoinResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if len(c.script) == 0 {
		return coin(303, 0)
	}
	r := c.script[0]
	c.script = c.script[1:]
	return r
}

func (c *coinDevice) GetLostCoins() driver.LostCoins   { return c.lost }
func (c *coinDevice) LostCoinTotals() driver.LostCoins { return c.lost }
func (c *coinDevice) ModifyChannels(context.Context, int, int) (driver.CommandResponse, error) {
	return driver.Response(203, ""), nil
}
func (c *coinDevice) ResetDevice(context.Context) driver.CommandResponse { return driver.Response(204, "") }
func (c *coinDevice) CleanDevice(context.Context) driver.CommandResponse { return driver.Response(200, "") }

type billDevice struct {
	base
	script  []driver.Bill
	escrow  nv10.EscrowSnapshot
	reject  driver.CommandResponse
	rejects int
}

func newBillDevice(script ...driver.Bill) *billDevice {
	return &billDevice{
		base:   base{id: "bill", family: model.FamilyNV10, lc: model.LifecycleReading},
		script: script,
		escrow: nv10.EscrowSnapshot{State: nv10.EscrowIdle},
		reject: driver.Response(nv10.CodeReturned, "returned"),
	}
}

func note(code, value int) driver.Bill {
	return driver.Bill{CommandResponse: driver.Response(code, "msg"), Bill: value}
}

func (b *billDevice) GetBill(context.Context) driver.Bill {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	if len(b.script) == 0 {
		return note(nv10.CodeNoEvent, 0)
	}
	r := b.script[0]
	b.script = b.script[1:]
	return r
}

func (b *billDevice) Escrow() nv10.EscrowSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.escrow
}

func (b *billDevice) ModifyChannels(context.Context, int) (driver.CommandResponse, error) {
	return driver.Response(nv10.CodeChannels, ""), nil
}

func (b *billDevice) Reject(context.Context) (driver.CommandResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.escrow.State != nv10.EscrowPending {
		return driver.CommandResponse{}, nv10.ErrNotInEscrow
	}
	b.rejects++
	b.escrow = nv10.EscrowSnapshot{State: nv10.EscrowRejected}
	return b.reject, nil
}

// cardDevice has no poll cycle
type cardDevice struct {
	base
}
