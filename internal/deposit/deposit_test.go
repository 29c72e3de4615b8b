// internal/deposit/deposit_test.go
package deposit

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/engine"
	"cash-device-service/internal/hub"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func coinEvent(code int, p engine.CoinPayload) model.DeviceEvent {
	return model.NewDeviceEvent("coin-1", model.FamilyAzkoyen, model.EventCoin, code, "", p)
}

func billEvent(code int, p engine.BillPayload) model.DeviceEvent {
	return model.NewDeviceEvent("bill-1", model.FamilyNV10, model.EventBill, code, "", p)
}

func TestCoinsAreCredited(t *testing.T) {
	tally := NewTally("coin-1")
	tally.Apply(coinEvent(202, engine.CoinPayload{Coin: 100}))
	tally.Apply(coinEvent(202, engine.CoinPayload{Coin: 500}))
	tally.Apply(coinEvent(302, engine.CoinPayload{}))

	s := tally.Summary()
	assert.True(t, decimal.NewFromInt(600).Equal(s.Total))
	assert.True(t, decimal.NewFromInt(600).Equal(s.Coins))
	assert.Len(t, s.Credits, 2)
	assert.False(t, s.Halted)
}

func TestLostCoinReconciliationMatchesLedger(t *testing.T) {
	lost := driver.NewLostCoins()
	lost[50] = 2
	lost[1000] = 1

	tally := NewTally("coin-1")
	tally.Apply(coinEvent(202, engine.CoinPayload{Coin: 200}))
	before := tally.Summary().Total

	credits := tally.Apply(coinEvent(202, engine.CoinPayload{Remaining: 3, LostCoins: lost}))
	after := tally.Summary()

	require.Len(t, credits, 1)
	assert.Equal(t, KindLost, credits[0].Kind)
	assert.True(t, lost.Total().Equal(after.Total.Sub(before)))
	assert.Equal(t, 2, after.LostCoins[50])
	assert.Equal(t, 1, after.LostCoins[1000])
}

func TestRemainingOneSkipsReconciliation(t *testing.T) {
	lost := driver.NewLostCoins()
	lost[100] = 4

	tally := NewTally("coin-1")
	tally.Apply(coinEvent(202, engine.CoinPayload{Coin: 100, Remaining: 1, LostCoins: lost}))
	assert.True(t, decimal.NewFromInt(100).Equal(tally.Summary().Total))
}

func TestCriticalCoinHalts(t *testing.T) {
	tally := NewTally("coin-1")
	tally.Apply(coinEvent(402, engine.CoinPayload{}))
	tally.Apply(coinEvent(403, engine.CoinPayload{}))

	s := tally.Summary()
	assert.True(t, s.Halted)
	assert.Equal(t, 402, s.HaltCode)
}

func TestBillCredits(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		p      engine.BillPayload
		credit int64
		halted bool
	}{
		{"escrow pending", nv10.CodeNoteDetected, engine.BillPayload{Bill: 100}, 0, false},
		{"stacking", nv10.CodeStacking, engine.BillPayload{Bill: 100}, 0, false},
		{"stacked", nv10.CodeStacked, engine.BillPayload{Bill: 100}, 100, false},
		{"credited and stacked", nv10.CodeCreditedStacked, engine.BillPayload{Bill: 200}, 200, false},
		{"credited with error", nv10.CodeCreditedError, engine.BillPayload{Bill: 500}, 500, true},
		{"severe", nv10.CodeSevere, engine.BillPayload{Bill: 1000}, 1000, true},
		{"severe without value", nv10.CodeSevere, engine.BillPayload{}, 0, true},
		{"returned", nv10.CodeReturned, engine.BillPayload{Bill: 100}, 0, false},
		{"forced after failed return", nv10.CodeNoAnswer, engine.BillPayload{Bill: 50, Forced: true}, 50, true},
		{"sequence error", nv10.CodeSequence, engine.BillPayload{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := NewTally("bill-1")
			tally.Apply(billEvent(tt.code, tt.p))

			s := tally.Summary()
			assert.True(t, decimal.NewFromInt(tt.credit).Equal(s.Bills), "bills %s", s.Bills)
			assert.Equal(t, tt.halted, s.Halted)
		})
	}
}

func TestEscrowThenStackCreditsOnce(t *testing.T) {
	tally := NewTally("bill-1")
	for _, code := range []int{nv10.CodeReading, nv10.CodeNoteDetected, nv10.CodeStacking, nv10.CodeStacked} {
		tally.Apply(billEvent(code, engine.BillPayload{Bill: 100}))
	}

	s := tally.Summary()
	require.Len(t, s.Credits, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(s.Total))
}

func TestBookFedFromHub(t *testing.T) {
	h := hub.New(8, zap.NewNop())
	defer h.Close()

	book := NewBook(zap.NewNop())
	var mu sync.Mutex
	var hooked []Credit
	book.OnCredit(func(_ string, c Credit) {
		mu.Lock()
		defer mu.Unlock()
		hooked = append(hooked, c)
	})
	cancel := book.Attach(h)
	defer cancel()

	h.Publish(coinEvent(202, engine.CoinPayload{Coin: 100}))
	h.Publish(billEvent(nv10.CodeStacked, engine.BillPayload{Bill: 200}))
	h.Publish(model.NewDeviceEvent("card-1", model.FamilyDispenser, model.EventDispense, 203, "", nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(hooked) == 2
	}, time.Second, time.Millisecond)

	assert.True(t, decimal.NewFromInt(100).Equal(book.Summary("coin-1").Total))
	assert.True(t, decimal.NewFromInt(200).Equal(book.Summary("bill-1").Total))
	assert.True(t, book.Summary("card-1").Total.IsZero())

	final := book.Reset("coin-1")
	assert.True(t, decimal.NewFromInt(100).Equal(final.Total))
	assert.True(t, book.Summary("coin-1").Total.IsZero())
}
