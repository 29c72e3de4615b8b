// internal/service/fake_test.go
package service

import (
	"context"
	"sync"
	"time"

	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

type fakeDriver struct {
	mu        sync.Mutex
	id        string
	family    model.DeviceFamily
	lifecycle model.Lifecycle
	onChange  func(model.LifecycleChange)
	observe   func(time.Duration, error)
	faulted   string
	calls     []string
}

func (f *fakeDriver) set(lc model.Lifecycle) {
	f.mu.Lock()
	from := f.lifecycle
	f.lifecycle = lc
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil && from != lc {
		fn(model.LifecycleChange{From: from, To: lc, State: string(lc)})
	}
}

func (f *fakeDriver) call(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeDriver) ID() string                 { return f.id }
func (f *fakeDriver) Family() model.DeviceFamily { return f.family }
func (f *fakeDriver) State() string              { return string(f.Lifecycle()) }
func (f *fakeDriver) Port() string               { return "/dev/ttyUSB0" }

func (f *fakeDriver) Lifecycle() model.Lifecycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lifecycle
}

func (f *fakeDriver) OnLifecycle(fn func(model.LifecycleChange)) { f.onChange = fn }
func (f *fakeDriver) ObserveExchanges(fn func(time.Duration, error)) {
	f.observe = fn
}

func (f *fakeDriver) Connect(ctx context.Context) driver.CommandResponse {
	f.call("connect")
	f.set(model.LifecycleReady)
	return driver.Response(200, "connected")
}

func (f *fakeDriver) CheckDevice(ctx context.Context) driver.CommandResponse {
	f.call("check")
	return driver.Response(200, "ok")
}

func (f *fakeDriver) StartReader(ctx context.Context) driver.CommandResponse {
	f.call("start")
	f.set(model.LifecycleReading)
	return driver.Response(200, "reading")
}

func (f *fakeDriver) StopReader(ctx context.Context) driver.CommandResponse {
	f.call("stop")
	f.set(model.LifecycleReady)
	return driver.Response(200, "stopped")
}

func (f *fakeDriver) TestStatus(ctx context.Context) driver.DeviceStatus {
	return driver.DeviceStatus{Version: driver.StatusVersion, Device: 1, ErrorCode: 200}
}

func (f *fakeDriver) HealthMetrics() driver.HealthMetrics { return driver.HealthMetrics{Exchanges: 4, Failures: 1} }

func (f *fakeDriver) Fault(reason string) {
	f.mu.Lock()
	f.faulted = reason
	f.mu.Unlock()
	f.set(model.LifecycleFaulted)
}

func (f *fakeDriver) Close() error { return nil }

type fakeCoin struct {
	fakeDriver
	codes []int
	masks []int
}

func (f *fakeCoin) GetCoin(ctx context.Context) driver.CoinResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := 303
	if len(f.codes) > 0 {
		code, f.codes = f.codes[0], f.codes[1:]
	}
	return driver.CoinResult{CommandResponse: driver.Response(code, "coin"), Coin: 100, Remaining: 1}
}

func (f *fakeCoin) GetLostCoins() driver.LostCoins {
	lc := driver.NewLostCoins()
	lc[200] = 1
	return lc
}

func (f *fakeCoin) LostCoinTotals() driver.LostCoins {
	lc := driver.NewLostCoins()
	lc[200] = 2
	lc[50] = 1
	return lc
}

func (f *fakeCoin) ModifyChannels(ctx context.Context, mask1, mask2 int) (driver.CommandResponse, error) {
	f.masks = []int{mask1, mask2}
	return driver.Response(200, "channels"), nil
}

func (f *fakeCoin) ResetDevice(ctx context.Context) driver.CommandResponse {
	return driver.Response(200, "reset")
}

func (f *fakeCoin) CleanDevice(ctx context.Context) driver.CommandResponse {
	return driver.Response(200, "clean")
}

// fakeBill holds one note in escrow until Reject is called
type fakeBill struct {
	fakeDriver
	escrow nv10.EscrowSnapshot
	reject int
}

func (f *fakeBill) GetBill(ctx context.Context) driver.Bill {
	return driver.Bill{CommandResponse: driver.Response(nv10.CodeNoEvent, "bill")}
}

func (f *fakeBill) ModifyChannels(ctx context.Context, mask int) (driver.CommandResponse, error) {
	return driver.Response(nv10.CodeChannels, "channels"), nil
}

func (f *fakeBill) Escrow() nv10.EscrowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.escrow
}

func (f *fakeBill) hold(bill int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escrow = nv10.EscrowSnapshot{State: nv10.EscrowPending, Bill: bill}
}

func (f *fakeBill) Reject(ctx context.Context) (driver.CommandResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.escrow.State != nv10.EscrowPending {
		return driver.CommandResponse{}, nv10.ErrNotInEscrow
	}
	if f.reject == nv10.CodeReturned {
		f.escrow = nv10.EscrowSnapshot{State: nv10.EscrowRejected}
	} else {
		f.escrow.State = nv10.EscrowStacked
	}
	return driver.Response(f.reject, "reject"), nil
}

type fakeDispenser struct {
	fakeDriver
	code int
}

func (f *fakeDispenser) DispenseCard(ctx context.Context) driver.CommandResponse {
	return driver.Response(f.code, "dispensed")
}

func (f *fakeDispenser) RecycleCard(ctx context.Context) driver.CommandResponse {
	return driver.Response(f.code, "recycled")
}

func (f *fakeDispenser) EndProcess(ctx context.Context) driver.CommandResponse {
	return driver.Response(f.code, "ended")
}

func (f *fakeDispenser) GetDispenserFlags() driver.DispenserFlags {
	return driver.DispenserFlags{CardInGate: true, CardsInDispenser: true}
}
