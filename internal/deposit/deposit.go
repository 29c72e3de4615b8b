// internal/deposit/deposit.go
package deposit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cash-device-service/internal/driver/azkoyen"
	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/engine"
	"cash-device-service/internal/hub"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

// Credit kinds
const (
	KindCoin = "coin"
	KindBill = "bill"
	KindLost = "lost"
)

// Credit is one amount added to a deposit
type Credit struct {
	Sequence   uint64          `json:"sequence"`
	Kind       string          `json:"kind"`
	StatusCode int             `json:"status_code"`
	Amount     decimal.Decimal `json:"amount"`
	At         time.Time       `json:"at"`
}

// Summary is a read-only view of a deposit
type Summary struct {
	DeviceID  string           `json:"device_id"`
	Total     decimal.Decimal  `json:"total"`
	Coins     decimal.Decimal  `json:"coins"`
	Bills     decimal.Decimal  `json:"bills"`
	Lost      decimal.Decimal  `json:"lost"`
	LostCoins driver.LostCoins `json:"lost_coins"`
	Credits   []Credit         `json:"credits"`
	Halted    bool             `json:"halted"`
	HaltCode  int              `json:"halt_code,omitempty"`
	StartedAt time.Time        `json:"started_at"`
}

// Tally turns the event stream of one device into a running total
type Tally struct {
	mu        sync.Mutex
	deviceID  string
	coins     decimal.Decimal
	bills     decimal.Decimal
	lost      decimal.Decimal
	lostCoins driver.LostCoins
	credits   []Credit
	halted    bool
	haltCode  int
	startedAt time.Time
}

// NewTally starts an empty deposit for deviceID
func NewTally(deviceID string) *Tally {
	return &Tally{
		deviceID:  deviceID,
		coins:     decimal.Zero,
		bills:     decimal.Zero,
		lost:      decimal.Zero,
		lostCoins: driver.NewLostCoins(),
		startedAt: time.Now(),
	}
}

// Apply folds one event into the tally and returns the credits it caused
func (t *Tally) Apply(e model.DeviceEvent) []Credit {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Credit
	credit := func(kind string, amount decimal.Decimal) {
		if amount.Sign() <= 0 {
			return
		}
		c := Credit{Sequence: e.Sequence, Kind: kind, StatusCode: e.StatusCode, Amount: amount, At: e.Timestamp}
		t.credits = append(t.credits, c)
		out = append(out, c)
		switch kind {
		case KindCoin:
			t.coins = t.coins.Add(amount)
		case KindBill:
			t.bills = t.bills.Add(amount)
		case KindLost:
			t.lost = t.lost.Add(amount)
		}
	}

	switch e.Type {
	case model.EventCoin:
		p, ok := e.Payload.(engine.CoinPayload)
		if !ok {
			return nil
		}
		if p.Remaining > 1 {
			for denom, count := range p.LostCoins {
				t.lostCoins[denom] += count
			}
			credit(KindLost, p.LostCoins.Total())
		}
		credit(KindCoin, decimal.NewFromInt(int64(p.Coin)))
		if e.StatusCode == azkoyen.CodeCritical || e.StatusCode == azkoyen.CodeWarnLimit {
			t.halt(e.StatusCode)
		}

	case model.EventBill:
		p, ok := e.Payload.(engine.BillPayload)
		if !ok {
			return nil
		}
		if creditsBill(e.StatusCode) || p.Forced {
			credit(KindBill, decimal.NewFromInt(int64(p.Bill)))
		}
		if p.Forced || e.StatusCode >= 400 {
			t.halt(e.StatusCode)
		}

	case model.EventFault:
		t.halt(e.StatusCode)
	}
	return out
}

// creditsBill reports whether a bill outcome means the note is in the
// cash box. Notes stacked under an error are credited too.
func creditsBill(code int) bool {
	switch code {
	case nv10.CodeStacked, nv10.CodeCreditedStacked, nv10.CodeCreditedError, nv10.CodeSevere:
		return true
	}
	return false
}

func (t *Tally) halt(code int) {
	if !t.halted {
		t.halted = true
		t.haltCode = code
	}
}

// Summary returns a snapshot of the deposit
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	lost := driver.NewLostCoins()
	for k, v := range t.lostCoins {
		lost[k] = v
	}
	return Summary{
		DeviceID:  t.deviceID,
		Total:     t.coins.Add(t.bills).Add(t.lost),
		Coins:     t.coins,
		Bills:     t.bills,
		Lost:      t.lost,
		LostCoins: lost,
		Credits:   append([]Credit(nil), t.credits...),
		Halted:    t.halted,
		HaltCode:  t.haltCode,
		StartedAt: t.startedAt,
	}
}

// Book keeps one tally per device, fed from the hub
type Book struct {
	mu       sync.Mutex
	tallies  map[string]*Tally
	onCredit func(deviceID string, c Credit)
	logger   *zap.Logger
}

// NewBook creates an empty book
func NewBook(logger *zap.Logger) *Book {
	return &Book{
		tallies: make(map[string]*Tally),
		logger:  logger.With(zap.String("component", "deposit")),
	}
}

// OnCredit installs a hook called for every credit
func (b *Book) OnCredit(fn func(deviceID string, c Credit)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCredit = fn
}

// Attach subscribes the book to cash events of h and returns the
// unsubscribe function
func (b *Book) Attach(h *hub.Hub) func() {
	_, cancel := h.Subscribe(hub.OfType(model.EventCoin, model.EventBill, model.EventFault), b.Apply)
	return cancel
}

// Apply routes one event to the tally of its device
func (b *Book) Apply(e model.DeviceEvent) {
	b.mu.Lock()
	t, ok := b.tallies[e.DeviceID]
	if !ok {
		t = NewTally(e.DeviceID)
		b.tallies[e.DeviceID] = t
	}
	hook := b.onCredit
	b.mu.Unlock()

	for _, c := range t.Apply(e) {
		b.logger.Info("Deposit credited",
			zap.String("device_id", e.DeviceID),
			zap.String("kind", c.Kind),
			zap.Int("status_code", c.StatusCode),
			zap.String("amount", c.Amount.String()),
		)
		if hook != nil {
			hook(e.DeviceID, c)
		}
	}
}

// Summary returns the deposit of deviceID, empty when nothing arrived
func (b *Book) Summary(deviceID string) Summary {
	b.mu.Lock()
	t, ok := b.tallies[deviceID]
	b.mu.Unlock()
	if !ok {
		return NewTally(deviceID).Summary()
	}
	return t.Summary()
}

// Reset closes the deposit of deviceID and returns its final summary
func (b *Book) Reset(deviceID string) Summary {
	b.mu.Lock()
	t, ok := b.tallies[deviceID]
	delete(b.tallies, deviceID)
	b.mu.Unlock()
	if !ok {
		return NewTally(deviceID).Summary()
	}
	return t.Summary()
}
