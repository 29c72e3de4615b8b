// pkg/driver/types.go
package driver

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cash-device-service/internal/model"
)

// ErrValidation marks a command issued in the wrong state or with bad options.
// It is returned synchronously and never changes session state.
var ErrValidation = errors.New("validation error")

// Core data structures

// CommandResponse is the result of every command-style operation
type CommandResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// Response builds a CommandResponse
func Response(code int, message string) CommandResponse {
	return CommandResponse{StatusCode: code, Message: message}
}

// Severity returns the status band of the response
func (r CommandResponse) Severity() model.Severity {
	return model.SeverityOf(r.StatusCode)
}

// In reports whether the status code is one of codes
func (r CommandResponse) In(codes ...int) bool {
	for _, c := range codes {
		if r.StatusCode == c {
			return true
		}
	}
	return false
}

// CoinResult is the outcome of one coin poll. LostCoins carries the batch
// reconciled by this poll when Remaining is above one.
type CoinResult struct {
	CommandResponse
	Event     int       `json:"event"`
	Coin      int       `json:"coin"`
	Remaining int       `json:"remaining"`
	LostCoins LostCoins `json:"lost_coins,omitempty"`
}

// Denominations accepted by the coin validators, in ascending order
var Denominations = []int{50, 100, 200, 500, 1000}

// LostCoins maps a denomination to the number of coins unaccounted for
type LostCoins map[int]int

// NewLostCoins returns a map with every denomination key present
func NewLostCoins() LostCoins {
	lc := make(LostCoins, len(Denominations))
	for _, d := range Denominations {
		lc[d] = 0
	}
	return lc
}

// Total is the sum of denomination times count
func (lc LostCoins) Total() decimal.Decimal {
	total := decimal.Zero
	for denom, count := range lc {
		total = total.Add(decimal.NewFromInt(int64(denom)).Mul(decimal.NewFromInt(int64(count))))
	}
	return total
}

// Count is the number of coins in the map
func (lc LostCoins) Count() int {
	n := 0
	for _, c := range lc {
		n += c
	}
	return n
}

// Keys returns the denominations in ascending order
func (lc LostCoins) Keys() []int {
	keys := make([]int, 0, len(lc))
	for k := range lc {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Bill is the outcome of one bill poll
type Bill struct {
	CommandResponse
	Bill int `json:"bill"`
}

// DispenserFlags is a snapshot of the dispenser mechanics
type DispenserFlags struct {
	RFICCardInGate   bool `json:"rfic_card_in_gate"`
	RecyclingBoxFull bool `json:"recycling_box_full"`
	CardInGate       bool `json:"card_in_gate"`
	CardsInDispenser bool `json:"cards_in_dispenser"`
	DispenserFull    bool `json:"dispenser_full"`
}

// DeviceStatus is the diagnostic snapshot returned by TestStatus
type DeviceStatus struct {
	Version        string `json:"version"`
	Device         int    `json:"device"`
	ErrorType      int    `json:"error_type"`
	ErrorCode      int    `json:"error_code"`
	Message        string `json:"message"`
	AdditionalInfo string `json:"additional_info"`
	Priority       int    `json:"priority"`
}

// StatusVersion is reported in every DeviceStatus
const StatusVersion = "1.1"

// HealthMetrics contains link-level counters for a session
type HealthMetrics struct {
	Exchanges       int64         `json:"exchanges"`
	Failures        int64         `json:"failures"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastExchange    *time.Time    `json:"last_exchange,omitempty"`
	LastFailureTime *time.Time    `json:"last_failure_time,omitempty"`
}

// SuccessRate is the share of exchanges that did not fail
func (h HealthMetrics) SuccessRate() float64 {
	if h.Exchanges == 0 {
		return 1
	}
	return float64(h.Exchanges-h.Failures) / float64(h.Exchanges)
}
