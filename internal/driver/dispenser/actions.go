// internal/driver/dispenser/actions.go
package dispenser

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cash-device-service/internal/codec/crt"
	"cash-device-service/internal/session"
)

// Command results
const (
	resultOK      = 0
	resultFatal   = -1
	resultRefused = 2
)

// Action results beyond the command results
const (
	actionRetry   = 1
	actionNoCards = 3
)

func (d *Driver) request(cmd crt.Command, extra time.Duration) session.Request {
	return session.Request{
		Data:     cmd.Encode(),
		Settle:   d.cfg.Settle + extra,
		Reads:    d.cfg.MaxInitAttempts,
		Complete: crt.Complete,
	}
}

// send runs one command on link. A decoded reply is acknowledged; a
// success reply refreshes the status flags and a failure reply the last
// error.
func (d *Driver) send(ctx context.Context, link *session.Link, cmd crt.Command, extra time.Duration) int {
	raw, err := link.Exchange(ctx, d.request(cmd, extra))
	if err != nil {
		return resultFatal
	}
	reply, err := crt.Decode(cmd, raw)
	if err != nil {
		d.sess.Logger.Debug("Bad CRT reply", zap.Stringer("command", cmd), zap.Error(err))
		return resultFatal
	}
	if err := link.Send(ctx, crt.Acknowledge); err != nil {
		d.sess.Logger.Debug("ACK not written", zap.Error(err))
	}

	if !reply.Success {
		d.lastError = reply.Error
		d.sess.Logger.Warn("Dispenser reported failure",
			zap.String("code", reply.Error.Code),
			zap.String("message", reply.Error.Message),
		)
		return resultRefused
	}
	d.status = reply.Status
	return resultOK
}

func (d *Driver) command(ctx context.Context, cmd crt.Command, extra time.Duration) int {
	if d.sess.Link == nil {
		return resultFatal
	}
	return d.send(ctx, d.sess.Link, cmd, extra)
}

// initialize sends Init up to attempts times. A refused Init is retried,
// a broken exchange is not.
func (d *Driver) initialize(ctx context.Context, link *session.Link, attempts int) int {
	for i := 1; i <= attempts; i++ {
		switch d.send(ctx, link, crt.Init, d.cfg.ShortTime) {
		case resultOK:
			d.initialized = true
			d.sess.Logger.Debug("Dispenser initialized", zap.Int("attempt", i))
			return 0
		case resultFatal:
			return 1
		}
	}
	return 1
}

func (d *Driver) probe(ctx context.Context, link *session.Link) error {
	if d.initialize(ctx, link, 1) != 0 {
		return errNoDispenser
	}
	return nil
}

// checkStatus maps a broken exchange onto retry
func (d *Driver) checkStatus(ctx context.Context) int {
	if r := d.command(ctx, crt.Status, d.cfg.ShortTime); r != resultFatal {
		return r
	}
	return actionRetry
}

func (d *Driver) stConnect(ctx context.Context) int {
	d.initialized = false
	if err := d.sess.Scan(ctx, d.probe); err != nil {
		return 1
	}
	return 0
}

func (d *Driver) stInit(ctx context.Context) int {
	if d.initialized {
		return 0
	}
	if d.sess.Link == nil {
		return 1
	}
	return d.initialize(ctx, d.sess.Link, d.cfg.MaxInitAttempts)
}

func (d *Driver) stWait(ctx context.Context) int {
	return d.checkStatus(ctx)
}

func (d *Driver) stMovingMotor(ctx context.Context) int {
	flags := d.status.Flags()
	if !flags.CardsInDispenser && !flags.DispenserFull {
		return actionNoCards
	}

	switch d.command(ctx, crt.Dispense, d.cfg.LongTime) {
	case resultOK:
		return 0
	case resultRefused:
		return resultRefused
	}

	check := d.checkStatus(ctx)
	if check == 0 && d.status.Flags().CardInGate {
		return 0
	}
	return check
}

func (d *Driver) stHandingCard(ctx context.Context) int {
	flags := d.status.Flags()
	switch {
	case flags.CardInGate:
	case flags.RFICCardInGate:
		return resultRefused
	default:
		return actionNoCards
	}

	switch d.command(ctx, crt.ReturnToBox, d.cfg.LongTime) {
	case resultOK:
		return 0
	case resultRefused:
		return resultRefused
	}

	check := d.checkStatus(ctx)
	flags = d.status.Flags()
	if check == 0 && !flags.CardInGate && !flags.RFICCardInGate {
		return 0
	}
	return check
}

func (d *Driver) stError(ctx context.Context) int {
	return d.checkStatus(ctx)
}
