// internal/driver/azkoyen/ledger.go
package azkoyen

import (
	"github.com/shopspring/decimal"

	"cash-device-service/pkg/driver"
)

// Ledger keeps the coins credited in batches, when several events arrive
// between two polls. The last batch is what GetLostCoins reports; totals
// only grow until Clear.
type Ledger struct {
	batch    driver.LostCoins
	totals   driver.LostCoins
	episodes int
}

// NewLedger returns an empty ledger
func NewLedger() *Ledger {
	return &Ledger{batch: driver.NewLostCoins(), totals: driver.NewLostCoins()}
}

// Record replaces the last batch and adds it to the totals
func (l *Ledger) Record(batch driver.LostCoins) {
	l.batch = driver.NewLostCoins()
	for denom, n := range batch {
		l.batch[denom] += n
		l.totals[denom] += n
	}
	l.episodes++
}

// Batch returns a copy of the last recorded batch
func (l *Ledger) Batch() driver.LostCoins {
	return clone(l.batch)
}

// Totals returns a copy of everything recorded since the last Clear
func (l *Ledger) Totals() driver.LostCoins {
	return clone(l.totals)
}

// Value is the money held by the totals
func (l *Ledger) Value() decimal.Decimal {
	return l.totals.Total()
}

// Episodes counts Record calls since the last Clear
func (l *Ledger) Episodes() int {
	return l.episodes
}

// Clear drops the batch and the totals
func (l *Ledger) Clear() {
	l.batch = driver.NewLostCoins()
	l.totals = driver.NewLostCoins()
	l.episodes = 0
}

func clone(lc driver.LostCoins) driver.LostCoins {
	out := driver.NewLostCoins()
	for k, v := range lc {
		out[k] = v
	}
	return out
}
