// internal/codec/ssp/ssp_test.go
package ssp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSync(t *testing.T) {
	var seq Sequencer
	seq.Sync()

	frame := Encode(seq.Next(), CmdSync)
	assert.Equal(t, []byte{0x7F, 0x80, 0x01, 0x11, 0x65, 0x82}, frame)
	assert.Equal(t, []byte{0x7F, 0x80, 0x01, 0x07, 0x12, 0x02}, Encode(0x80, CmdPoll))
}

func TestSequencerToggles(t *testing.T) {
	var seq Sequencer
	seq.Sync()
	assert.Equal(t, byte(0x80), seq.Next())
	assert.Equal(t, byte(0x00), seq.Next())
	assert.Equal(t, byte(0x80), seq.Next())

	seq.Sync()
	assert.Equal(t, byte(0x80), seq.Next())
}

func TestDecodePollResponse(t *testing.T) {
	raw := Encode(0x00, RespOK, EventRead, 3)
	require.True(t, Complete(raw))
	assert.False(t, Complete(raw[:4]))

	resp, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), resp.Seq)
	assert.Equal(t, RespOK, resp.Code())
	assert.Equal(t, 3, resp.Len())
	assert.Equal(t, EventRead, resp.Event())
	assert.Equal(t, 3, resp.Channel())
	assert.Zero(t, resp.AdditionalEvent())
	assert.Equal(t, 5000, BillValue(resp.Channel()))
}

func TestDecodeErrors(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		_, err := Decode([]byte{0x7F, 0x80})
		assert.ErrorIs(t, err, ErrShortFrame)
	})

	t.Run("start byte", func(t *testing.T) {
		raw := Encode(0x80, RespOK)
		raw[0] = 0x00
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrStart)
	})

	t.Run("crc", func(t *testing.T) {
		raw := Encode(0x80, RespOK)
		raw[len(raw)-1] ^= 0xFF
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrCRC)
	})
}

func TestTables(t *testing.T) {
	assert.Equal(t, "CREDIT", LookupEvent(EventCredit).Message)
	assert.Equal(t, "Channel inhibited", LookupLastReject(6).Message)
	assert.Equal(t, 2, LookupResponse(RespCannotProcess).Priority)
	assert.Equal(t, 1, LookupEvent(99).Priority)
	assert.Zero(t, BillValue(8))
}
