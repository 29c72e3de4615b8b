// internal/driver/nv10/actions.go
package nv10

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cash-device-service/internal/codec/ssp"
	"cash-device-service/internal/session"
)

// Exchange results
const (
	resultOK       = 0
	resultRetry    = 1
	resultRefused  = 2
	resultFatal    = -1
	resultRepeated = -2
)

const maxReads = 3

func accepted(r int) bool {
	return r == resultOK || r == resultRepeated
}

func (d *Driver) request(frame []byte) session.Request {
	return session.Request{
		Data:     frame,
		Settle:   d.cfg.Settle,
		Reads:    maxReads,
		Complete: ssp.Complete,
	}
}

// send frames cmd with the next sequence flag and records what the
// reply carries. A reply repeating the previous sequence flag was already
// seen and is not decoded again.
func (d *Driver) send(ctx context.Context, lastReject bool, cmd ...byte) int {
	seq := d.seq.Next()
	raw, err := d.sess.Exchange(ctx, d.request(ssp.Encode(seq, cmd...)))
	if err != nil {
		if errors.Is(err, session.ErrTimeout) || errors.Is(err, session.ErrIncomplete) {
			return resultRetry
		}
		return resultFatal
	}

	resp, err := ssp.Decode(raw)
	if err != nil {
		d.sess.Logger.Debug("Bad SSP reply", zap.Error(err))
		return resultRetry
	}
	if int(resp.Seq) == d.prevSeq {
		// the slot of this request is spent even though nothing new arrived
		d.prevSeq = int(seq)
		return resultRepeated
	}
	d.prevSeq = int(resp.Seq)

	d.length = resp.Len()
	if d.length == 0 {
		return resultFatal
	}
	d.code = ssp.LookupResponse(resp.Code())
	if d.length >= 2 {
		if lastReject {
			d.lastReject = ssp.LookupLastReject(resp.Event())
		} else {
			d.event = ssp.LookupEvent(resp.Event())
			if d.length == 4 {
				d.adEvent = ssp.LookupEvent(resp.AdditionalEvent())
			}
		}
	}
	if d.length >= 3 && !lastReject {
		d.channel = resp.Channel()
		d.billValue = ssp.BillValue(d.channel)
	}

	if resp.Code() != ssp.RespOK {
		d.sess.Logger.Debug("Validator refused command",
			zap.Int("code", d.code.Code),
			zap.String("message", d.code.Message),
		)
		return resultRefused
	}
	return resultOK
}

// probe synchronises with a validator behind a freshly opened link
func (d *Driver) probe(ctx context.Context, link *session.Link) error {
	d.seq.Sync()
	raw, err := link.Exchange(ctx, d.request(ssp.Encode(d.seq.Next(), ssp.CmdSync)))
	if err != nil {
		return err
	}
	resp, err := ssp.Decode(raw)
	if err != nil {
		return err
	}
	if resp.Code() != ssp.RespOK {
		return fmt.Errorf("sync answered %d", resp.Code())
	}
	d.prevSeq = int(resp.Seq)
	return nil
}

func (d *Driver) sync(ctx context.Context) bool {
	d.seq.Sync()
	d.prevSeq = -1
	return accepted(d.send(ctx, false, ssp.CmdSync))
}

func (d *Driver) command(ctx context.Context, cmd ...byte) bool {
	return accepted(d.send(ctx, false, cmd...))
}

func (d *Driver) readLastReject(ctx context.Context) bool {
	return accepted(d.send(ctx, true, ssp.CmdLastReject))
}

func (d *Driver) stConnect(ctx context.Context) int {
	if err := d.sess.Scan(ctx, d.probe); err != nil {
		return 1
	}
	return 0
}

func (d *Driver) stDisable(ctx context.Context) int {
	if !d.command(ctx, ssp.CmdDisable) || !d.command(ctx, ssp.CmdDisplayOff) {
		return 1
	}
	return 0
}

func (d *Driver) stEnable(ctx context.Context) int {
	d.billValue, d.channel = 0, 0
	switch {
	case !d.sync(ctx),
		!d.command(ctx, ssp.CmdDisplayOn),
		!d.command(ctx, ssp.SetChannelsAll...),
		!d.command(ctx, ssp.CmdEnable),
		!d.readLastReject(ctx):
		return 1
	}
	return 0
}

func (d *Driver) stPolling(ctx context.Context) int {
	return d.send(ctx, false, ssp.CmdPoll)
}

func (d *Driver) stCheck(ctx context.Context) int {
	if !d.readLastReject(ctx) {
		return 1
	}
	if !accepted(d.send(ctx, false, ssp.CmdPoll)) {
		return 1
	}
	return 0
}

func (d *Driver) stError(ctx context.Context) int {
	if !d.sync(ctx) {
		return 1
	}
	return 0
}
