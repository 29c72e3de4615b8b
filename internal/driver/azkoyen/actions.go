// internal/driver/azkoyen/actions.go
package azkoyen

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cash-device-service/internal/codec/cctalk"
	"cash-device-service/internal/session"
)

// Exchange results folded from transport, framing and ACK outcomes
const (
	resultOK        = 0
	resultRetry     = 1
	resultFatal     = -1
	resultPollError = -2
)

const maxReads = 3

func (d *Driver) request(cmd []byte) session.Request {
	return session.Request{
		Data:     cmd,
		Settle:   d.cfg.Settle,
		Reads:    maxReads,
		Complete: cctalk.Complete(cmd),
	}
}

// send runs one command and stores whatever the reply carries
func (d *Driver) send(ctx context.Context, cmd []byte) int {
	raw, err := d.sess.Exchange(ctx, d.request(cmd))
	if err != nil {
		if errors.Is(err, session.ErrTimeout) || errors.Is(err, session.ErrIncomplete) {
			return resultRetry
		}
		return resultFatal
	}

	reply, err := cctalk.Decode(cmd, raw)
	if err != nil {
		d.sess.Logger.Debug("Bad ccTalk reply", zap.Error(err))
		return resultRetry
	}
	switch reply.Ack {
	case cctalk.AckOK:
	case cctalk.AckNAK, cctalk.AckBusy:
		return resultRetry
	default:
		return resultFatal
	}

	switch reply.Command {
	case cctalk.HeaderReadBufferedCredit:
		buf, err := cctalk.DecodeCredit(reply.Data)
		if err != nil {
			return resultRetry
		}
		out := interpret(buf, d.prev)
		d.counter = out.counter
		d.last = out
		if out.pending > 0 {
			if out.err != nil {
				d.lastError = *out.err
				return resultPollError
			}
			d.lastError = cctalk.LookupPollError(0)
		}
	case cctalk.HeaderSelfCheck:
		if len(reply.Data) < 1 {
			return resultRetry
		}
		d.fault = cctalk.LookupFault(int(reply.Data[0]))
	case cctalk.HeaderReadOpto:
		opto, err := cctalk.DecodeOpto(reply.Data)
		if err != nil {
			return resultRetry
		}
		d.opto = opto
	}
	return resultOK
}

// probe identifies a validator behind a freshly opened link
func (d *Driver) probe(ctx context.Context, link *session.Link) error {
	raw, err := link.Exchange(ctx, d.request(cctalk.SimplePoll))
	if err != nil {
		return err
	}
	reply, err := cctalk.Decode(cctalk.SimplePoll, raw)
	if err != nil {
		return err
	}
	if reply.Ack != cctalk.AckOK {
		return fmt.Errorf("simple poll answered %d", reply.Ack)
	}
	return nil
}

func (d *Driver) simplePoll(ctx context.Context) int {
	r := d.send(ctx, cctalk.SimplePoll)
	if r >= resultRetry {
		r = d.send(ctx, cctalk.SimplePoll)
	}
	return r
}

// selfCheck returns the fault class, or -1/-2 when the command failed
func (d *Driver) selfCheck(ctx context.Context) int {
	if r := d.send(ctx, cctalk.SelfCheck); r != resultOK {
		if r == resultFatal {
			return resultFatal
		}
		return resultPollError
	}
	return d.fault.Classify()
}

// checkOpto returns 1 when a sensor is blocked, 2 on an alert bit, or
// -1/-2 when the command failed
func (d *Driver) checkOpto(ctx context.Context) int {
	if r := d.send(ctx, cctalk.ReadOpto); r != resultOK {
		if r == resultFatal {
			return resultFatal
		}
		return resultPollError
	}
	switch {
	case d.opto.MeasureBlocked || d.opto.OutBlocked:
		return 1
	case d.opto.NotUsed || d.opto.COSAlert:
		return 2
	}
	return 0
}

// checkEventReset succeeds when the event counter is back at 0 or 1
func (d *Driver) checkEventReset(ctx context.Context) int {
	r := d.send(ctx, cctalk.ReadBufferedCredit)
	if (r == resultOK || r == resultPollError) && d.counter <= 1 {
		return 0
	}
	return 1
}

func (d *Driver) stConnect(ctx context.Context) int {
	if err := d.sess.Scan(ctx, d.probe); err != nil {
		return resultFatal
	}
	return resultOK
}

func (d *Driver) stCheck(ctx context.Context) int {
	if d.simplePoll(ctx) != resultOK {
		return 1
	}

	self := d.selfCheck(ctx)
	if self == resultPollError {
		self = d.selfCheck(ctx)
	}
	if self != 0 {
		return 1
	}

	opto := d.checkOpto(ctx)
	if opto == resultPollError {
		opto = d.checkOpto(ctx)
		if opto == resultPollError {
			return 1
		}
	}
	switch opto {
	case 0:
		return 0
	case 2:
		return 2
	default:
		return 1
	}
}

func (d *Driver) stWaitPoll(ctx context.Context) int {
	if r := d.send(ctx, cctalk.Reset); r != resultOK {
		return r
	}
	if r := d.send(ctx, cctalk.EnableAll); r != resultOK {
		return r
	}
	d.prev = 0
	return d.checkEventReset(ctx)
}

func (d *Driver) stPolling(ctx context.Context) int {
	return d.send(ctx, cctalk.ReadBufferedCredit)
}

func (d *Driver) stReset(ctx context.Context) int {
	if r := d.send(ctx, cctalk.Reset); r != resultOK {
		return r
	}
	d.prev = 0
	return d.checkEventReset(ctx)
}

func (d *Driver) stError(ctx context.Context) int {
	return d.simplePoll(ctx)
}
