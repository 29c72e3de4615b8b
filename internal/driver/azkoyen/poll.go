// internal/driver/azkoyen/poll.go
package azkoyen

import (
	"cash-device-service/internal/codec/cctalk"
	"cash-device-service/pkg/driver"
)

// outcome is what one buffered credit read says happened since prev
type outcome struct {
	counter int
	pending int
	coin    int
	batch   driver.LostCoins
	err     *cctalk.PollError
}

// interpret decodes the events a credit buffer holds beyond prev. With
// more than one pending event the coins go into a batch and a critical
// error wins over any other error in the same read.
func interpret(buf cctalk.CreditBuffer, prev int) outcome {
	out := outcome{counter: buf.Counter, pending: buf.Pending(prev)}
	if out.pending == 0 {
		return out
	}

	if out.pending == 1 {
		ev := buf.Events[0]
		if ev.IsError() {
			e := cctalk.LookupPollError(int(ev.Code))
			out.err = &e
			return out
		}
		out.coin = cctalk.CoinValue(int(ev.Channel))
		return out
	}

	n := out.pending
	if n > len(buf.Events) {
		n = len(buf.Events)
	}
	out.batch = driver.NewLostCoins()
	for _, ev := range buf.Events[:n] {
		if ev.IsError() {
			e := cctalk.LookupPollError(int(ev.Code))
			if out.err == nil || !out.err.IsCritical() {
				out.err = &e
			}
			continue
		}
		if v := cctalk.CoinValue(int(ev.Channel)); v > 0 {
			out.batch[v]++
			out.coin = v
		}
	}
	return out
}

// warnCodes count towards the warning threshold
var warnCodes = map[int]bool{5: true, 6: true, 9: true, 10: true, 20: true, 119: true, 254: true}

// deckCode is the coin return mechanism alarm
const deckCode = 254
