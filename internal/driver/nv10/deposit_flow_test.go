// internal/driver/nv10/deposit_flow_test.go
package nv10_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cash-device-service/internal/codec/ssp"
	"cash-device-service/internal/config"
	"cash-device-service/internal/deposit"
	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/engine"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol/protocoltest"
)

// tallyPublisher feeds every published event straight into a deposit
type tallyPublisher struct {
	tally *deposit.Tally
}

func (p tallyPublisher) Publish(e model.DeviceEvent) { p.tally.Apply(e) }

type billFlow struct {
	drv    *nv10.Driver
	sim    *nv10.Simulator
	tally  *deposit.Tally
	poller *engine.Poller
}

func newBillFlow(t *testing.T) *billFlow {
	t.Helper()
	sim := nv10.NewSimulator()
	drv, err := nv10.New(nv10.Config{
		ID:            "bill-1",
		Opener:        protocoltest.Opener(protocoltest.New("/dev/ttyACM0", sim.Respond)),
		Candidates:    []string{"/dev/ttyACM0"},
		EscrowTimeout: 10 * time.Second,
		InhibitMask:   0x7F,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })

	ctx := context.Background()
	require.Equal(t, nv10.CodeSynced, drv.Connect(ctx).StatusCode)
	require.Equal(t, nv10.CodeReady, drv.StartReader(ctx).StatusCode)

	tally := deposit.NewTally("bill-1")
	eng := engine.New(config.EngineConfig{PollInterval: time.Millisecond, MaxConsecutiveFailures: 3}, tallyPublisher{tally}, zap.NewNop())
	return &billFlow{drv: drv, sim: sim, tally: tally, poller: eng.Poller(drv)}
}

func (f *billFlow) poll(t *testing.T) int {
	t.Helper()
	res, _, err := f.poller.Bill(context.Background())
	require.NoError(t, err)
	return res.StatusCode
}

func TestStackedNoteIsCredited(t *testing.T) {
	f := newBillFlow(t)
	f.sim.Queue(ssp.EventRead, 2)
	f.sim.Queue(ssp.EventCredit, 2)
	f.sim.Queue(ssp.EventStacked)

	assert.Equal(t, nv10.CodeNoteDetected, f.poll(t))
	assert.Equal(t, nv10.CodeCredited, f.poll(t))
	assert.Equal(t, nv10.CodeStacked, f.poll(t))

	sum := f.tally.Summary()
	assert.Equal(t, "2000", sum.Bills.String())
	assert.False(t, sum.Halted)
}

func TestReturnedNoteIsNotCredited(t *testing.T) {
	f := newBillFlow(t)
	f.sim.Queue(ssp.EventRead, 3)
	require.Equal(t, nv10.CodeNoteDetected, f.poll(t))

	resp, out, err := f.poller.Reject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, nv10.CodeReturned, resp.StatusCode)
	assert.False(t, out.TearsDown())
	assert.Equal(t, nv10.EscrowRejected, out.Event.Payload.(engine.BillPayload).Escrow)

	sum := f.tally.Summary()
	assert.True(t, sum.Bills.IsZero())
	assert.False(t, sum.Halted)
}

func TestNoteKeptOnFailedRejectIsCredited(t *testing.T) {
	f := newBillFlow(t)
	f.sim.Queue(ssp.EventRead, 3)
	require.Equal(t, nv10.CodeNoteDetected, f.poll(t))
	f.sim.Mute(ssp.CmdReject)

	resp, out, err := f.poller.Reject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, nv10.CodeNoAnswer, resp.StatusCode)
	assert.True(t, out.TearsDown())
	assert.Equal(t, 1, f.sim.Calls(ssp.CmdReject))

	payload := out.Event.Payload.(engine.BillPayload)
	assert.True(t, payload.Forced)
	assert.Equal(t, 5000, payload.Bill)

	sum := f.tally.Summary()
	assert.Equal(t, "5000", sum.Bills.String())
	assert.True(t, sum.Halted)
	assert.Equal(t, nv10.CodeNoAnswer, sum.HaltCode)
}

func TestRejectWithoutNoteInEscrow(t *testing.T) {
	f := newBillFlow(t)

	_, _, err := f.poller.Reject(context.Background())
	assert.ErrorIs(t, err, nv10.ErrNotInEscrow)
	assert.Empty(t, f.tally.Summary().Credits)
}
