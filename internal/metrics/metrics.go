// internal/metrics/metrics.go
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"cash-device-service/internal/model"
)

// Labels carry the device id and family only. Status codes form a closed
// catalogue so they are safe as a label too.

var (
	// ExchangesTotal counts request/reply exchanges by device and outcome.
	ExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashdev_exchanges_total",
		Help: "Total number of device exchanges, by device and result (ok/error).",
	}, []string{"device", "result"})

	// ExchangeDuration observes exchange latency.
	ExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cashdev_exchange_duration_seconds",
		Help:    "Duration of device exchanges including settle delay.",
		Buckets: []float64{.05, .1, .2, .3, .5, 1, 2, 5},
	}, []string{"device"})

	// CommandsTotal counts executed commands by status code.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashdev_commands_total",
		Help: "Total number of device commands, by device, command and status code.",
	}, []string{"device", "command", "code"})

	// EventsPublishedTotal counts hub events by type and severity.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashdev_events_published_total",
		Help: "Total number of events published to listeners, by family, type and severity.",
	}, []string{"family", "type", "severity"})

	// CreditedAmountTotal sums credited cash by device and kind.
	CreditedAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashdev_credited_amount_total",
		Help: "Total cash credited to deposits, by device and kind (coin/bill/lost).",
	}, []string{"device", "kind"})

	// SessionLifecycle is 1 for the current lifecycle of each device.
	SessionLifecycle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashdev_session_lifecycle",
		Help: "Current session lifecycle of each device (1 for the active lifecycle).",
	}, []string{"device", "lifecycle"})

	// PollLoops tracks running poll loops.
	PollLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cashdev_poll_loops",
		Help: "Current number of running poll loops.",
	})
)

var lifecycles = []model.Lifecycle{
	model.LifecycleDisconnected,
	model.LifecycleConnecting,
	model.LifecycleReady,
	model.LifecycleReading,
	model.LifecycleFaulted,
}

// RecordExchange records one exchange
func RecordExchange(device string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExchangesTotal.WithLabelValues(device, result).Inc()
	ExchangeDuration.WithLabelValues(device).Observe(d.Seconds())
}

// RecordCommand records one command result
func RecordCommand(device string, command model.CommandName, code int) {
	CommandsTotal.WithLabelValues(device, string(command), strconv.Itoa(code)).Inc()
}

// RecordEvent records one published event
func RecordEvent(e model.DeviceEvent) {
	EventsPublishedTotal.WithLabelValues(string(e.Family), string(e.Type), string(e.Severity)).Inc()
}

// RecordCredit adds a credited amount
func RecordCredit(device, kind string, amount decimal.Decimal) {
	if amount.Sign() <= 0 {
		return
	}
	CreditedAmountTotal.WithLabelValues(device, kind).Add(amount.InexactFloat64())
}

// SetLifecycle marks lc as the current lifecycle of device
func SetLifecycle(device string, lc model.Lifecycle) {
	for _, l := range lifecycles {
		v := 0.0
		if l == lc {
			v = 1
		}
		SessionLifecycle.WithLabelValues(device, string(l)).Set(v)
	}
}
