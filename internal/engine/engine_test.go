// internal/engine/engine_test.go
package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"cash-device-service/internal/config"
	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEngine(pub Publisher) *Engine {
	return New(config.EngineConfig{PollInterval: time.Millisecond, MaxConsecutiveFailures: 3}, pub, zap.NewNop())
}

func TestCoinSentinelIsNeverPublished(t *testing.T) {
	rec := &recorder{}
	dev := newCoinDevice(coin(303, 0), coin(202, 100), coin(303, 0), coin(302, 0))
	p := newEngine(rec).Poller(dev)

	for i := 0; i < 4; i++ {
		_, _, err := p.Coin(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []int{202, 302}, rec.codes())
}

func TestCoinReconciliationAttachesLostCoins(t *testing.T) {
	rec := &recorder{}
	dev := newCoinDevice(driver.CoinResult{CommandResponse: driver.Response(202, "msg"), Remaining: 3})
	dev.lost[100] = 2
	dev.lost[50] = 1

	res, out, err := newEngine(rec).Poller(dev).Coin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Remaining)
	require.True(t, out.Publish)

	payload, ok := rec.last().Payload.(CoinPayload)
	require.True(t, ok)
	assert.Equal(t, "250", payload.LostCoins.Total().String())
}

func TestCoinReconciliationUsesPolledBatch(t *testing.T) {
	rec := &recorder{}
	batch := driver.NewLostCoins()
	batch[50] = 2
	dev := newCoinDevice(driver.CoinResult{CommandResponse: driver.Response(402, "msg"), Remaining: 3, LostCoins: batch})

	_, out, err := newEngine(rec).Poller(dev).Coin(context.Background())
	require.NoError(t, err)
	assert.True(t, out.TearsDown())

	payload := rec.last().Payload.(CoinPayload)
	assert.Equal(t, 2, payload.LostCoins[50])
	assert.Equal(t, "100", payload.LostCoins.Total().String())
}

func TestCoinVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		verdict verdict
		publish bool
	}{
		{"no event", 303, carryOn, false},
		{"coin", 202, carryOn, true},
		{"rejected", 302, carryOn, true},
		{"coin error", 401, carryOn, true},
		{"critical", 402, teardown, true},
		{"warn limit", 403, halt, true},
		{"no answer", 503, retry, false},
		{"not started", 507, halt, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, publish := coinVerdict(tt.code)
			assert.Equal(t, tt.verdict, v)
			assert.Equal(t, tt.publish, publish)
		})
	}
}

func TestBillVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		verdict verdict
		publish bool
	}{
		{"no event", nv10.CodeNoEvent, carryOn, false},
		{"repeated", nv10.CodeRepeated, carryOn, false},
		{"note detected", nv10.CodeNoteDetected, carryOn, true},
		{"stacked", nv10.CodeStacked, carryOn, true},
		{"no answer", nv10.CodeNoAnswer, retry, false},
		{"sequence", nv10.CodeSequence, halt, true},
		{"credited with error", nv10.CodeCreditedError, teardown, true},
		{"severe", nv10.CodeSevere, teardown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, publish := billVerdict(tt.code)
			assert.Equal(t, tt.verdict, v)
			assert.Equal(t, tt.publish, publish)
		})
	}
}

func TestLoopTearsDownOnCriticalCoin(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec)
	defer e.Close()
	dev := newCoinDevice(coin(202, 100), coin(402, 0), coin(202, 200))

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool { return !e.Running(dev.ID()) }, time.Second, time.Millisecond)

	assert.Equal(t, []int{202, 402}, rec.codes())
	assert.Equal(t, 2, dev.pollCount())
	assert.Contains(t, dev.faulted(), "402")
	assert.Equal(t, model.LifecycleFaulted, dev.Lifecycle())
}

func TestLoopHaltsOnWarnLimitWithoutFault(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec)
	defer e.Close()
	dev := newCoinDevice(coin(401, 0), coin(403, 0), coin(202, 200))

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool { return !e.Running(dev.ID()) }, time.Second, time.Millisecond)

	assert.Equal(t, []int{401, 403}, rec.codes())
	assert.Empty(t, dev.faulted())
	assert.Equal(t, model.LifecycleReading, dev.Lifecycle())
}

func TestLoopFaultsAfterFailureBudget(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec)
	defer e.Close()
	dev := newCoinDevice(coin(503, 0), coin(503, 0), coin(503, 0))

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool { return !e.Running(dev.ID()) }, time.Second, time.Millisecond)

	assert.Equal(t, []int{503}, rec.codes())
	assert.Equal(t, model.EventFault, rec.last().Type)
	assert.NotEmpty(t, dev.faulted())
	assert.Equal(t, model.LifecycleFaulted, dev.Lifecycle())
}

func TestFailureBudgetResetsOnSuccess(t *testing.T) {
	rec := &recorder{}
	dev := newCoinDevice(coin(503, 0), coin(503, 0), coin(303, 0), coin(503, 0), coin(503, 0))
	p := newEngine(rec).Poller(dev)

	for i := 0; i < 5; i++ {
		_, out, err := p.Coin(context.Background())
		require.NoError(t, err)
		assert.False(t, out.Halted())
	}
	assert.Empty(t, rec.codes())
	assert.Empty(t, dev.faulted())
}

func TestLoopExitsWhenReaderStops(t *testing.T) {
	e := newEngine(&recorder{})
	defer e.Close()
	dev := newCoinDevice()

	require.NoError(t, e.Start(dev))
	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool { return dev.pollCount() > 2 }, time.Second, time.Millisecond)

	dev.setLifecycle(model.LifecycleReady)
	require.Eventually(t, func() bool { return !e.Running(dev.ID()) }, time.Second, time.Millisecond)
}

func TestStopWaitsForLoop(t *testing.T) {
	e := newEngine(&recorder{})
	defer e.Close()
	dev := newCoinDevice()

	require.NoError(t, e.Start(dev))
	e.Stop(dev.ID())
	assert.False(t, e.Running(dev.ID()))

	polls := dev.pollCount()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, polls, dev.pollCount())

	e.Stop(dev.ID())
}

func TestStartRejectsDevicesThatCannotPoll(t *testing.T) {
	e := newEngine(&recorder{})
	defer e.Close()

	idle := newCoinDevice()
	idle.setLifecycle(model.LifecycleReady)
	assert.ErrorIs(t, e.Start(idle), driver.ErrValidation)

	card := &cardDevice{base: base{id: "card", family: model.FamilyDispenser, lc: model.LifecycleReading}}
	assert.ErrorIs(t, e.Start(card), driver.ErrValidation)
	_, err := e.Poller(card).Poll(context.Background())
	assert.ErrorIs(t, err, driver.ErrValidation)

	_, _, err = e.Poller(idle).Bill(context.Background())
	assert.ErrorIs(t, err, driver.ErrValidation)
}

func TestBillCreditedUnderErrorTearsDown(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec)
	defer e.Close()
	dev := newBillDevice(note(nv10.CodeNoteDetected, 100), note(nv10.CodeSevere, 100), note(nv10.CodeStacked, 200))

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool { return !e.Running(dev.ID()) }, time.Second, time.Millisecond)

	assert.Equal(t, []int{nv10.CodeNoteDetected, nv10.CodeSevere}, rec.codes())
	payload := rec.last().Payload.(BillPayload)
	assert.Equal(t, 100, payload.Bill)
	assert.Equal(t, model.LifecycleFaulted, dev.Lifecycle())
}

func TestBillEscrowTimeout(t *testing.T) {
	tests := []struct {
		name     string
		reject   driver.CommandResponse
		wantCode int
		forced   bool
		halted   bool
	}{
		{"returned", driver.Response(nv10.CodeReturned, "returned"), nv10.CodeReturned, false, false},
		{"stuck", driver.Response(nv10.CodeNoAnswer, "no answer"), nv10.CodeNoAnswer, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			dev := newBillDevice()
			dev.escrow = nv10.EscrowSnapshot{State: nv10.EscrowPending, Bill: 500, Expired: true}
			dev.reject = tt.reject

			_, out, err := newEngine(rec).Poller(dev).Bill(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.halted, out.Halted())
			assert.Equal(t, 1, dev.rejects)

			require.Equal(t, []int{tt.wantCode}, rec.codes())
			payload := rec.last().Payload.(BillPayload)
			assert.Equal(t, 500, payload.Bill)
			assert.Equal(t, tt.forced, payload.Forced)
		})
	}
}

func TestCallerReject(t *testing.T) {
	tests := []struct {
		name      string
		reject    driver.CommandResponse
		forced    bool
		tearsDown bool
	}{
		{"returned", driver.Response(nv10.CodeReturned, "returned"), false, false},
		{"kept", driver.Response(nv10.CodeNoAnswer, "no answer"), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			dev := newBillDevice()
			dev.escrow = nv10.EscrowSnapshot{State: nv10.EscrowPending, Bill: 1000}
			dev.reject = tt.reject

			resp, out, err := newEngine(rec).Poller(dev).Reject(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.reject.StatusCode, resp.StatusCode)
			assert.Equal(t, tt.tearsDown, out.TearsDown())

			require.Equal(t, []int{tt.reject.StatusCode}, rec.codes())
			payload := rec.last().Payload.(BillPayload)
			assert.Equal(t, 1000, payload.Bill)
			assert.Equal(t, tt.forced, payload.Forced)
		})
	}
}

func TestCallerRejectWithoutNote(t *testing.T) {
	rec := &recorder{}
	dev := newBillDevice()

	_, _, err := newEngine(rec).Poller(dev).Reject(context.Background())
	assert.ErrorIs(t, err, nv10.ErrNotInEscrow)
	assert.Empty(t, rec.codes())

	_, _, err = newEngine(rec).Poller(newCoinDevice()).Reject(context.Background())
	assert.ErrorIs(t, err, driver.ErrValidation)
}

func TestBillNoRejectBeforeDeadline(t *testing.T) {
	rec := &recorder{}
	dev := newBillDevice(note(nv10.CodeStacking, 0))
	dev.escrow = nv10.EscrowSnapshot{State: nv10.EscrowPending, Bill: 500}

	_, _, err := newEngine(rec).Poller(dev).Bill(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dev.rejects)
	assert.Equal(t, []int{nv10.CodeStacking}, rec.codes())
}

func TestPollerReplacedWithDevice(t *testing.T) {
	e := newEngine(&recorder{})
	first := newCoinDevice()
	p := e.Poller(first)
	assert.Same(t, p, e.Poller(first))
	assert.NotSame(t, p, e.Poller(newCoinDevice()))
}

func TestCloseStopsEveryLoop(t *testing.T) {
	e := newEngine(&recorder{})
	a := newCoinDevice()
	b := newBillDevice()
	require.NoError(t, e.Start(a))
	require.NoError(t, e.Start(b))

	e.Close()
	assert.False(t, e.Running(a.ID()))
	assert.False(t, e.Running(b.ID()))
	assert.Error(t, e.Start(a))
}
