// internal/codec/crt/crt_test.go
package crt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(tag byte, cmd Command, payload ...byte) []byte {
	body := append([]byte{tag, cmd.CM, cmd.PM}, payload...)
	f := []byte{STX, Address, byte(len(body) >> 8), byte(len(body))}
	f = append(f, body...)
	f = append(f, ETX)
	f = append(f, BCC(f))
	return append([]byte{ACK}, f...)
}

func TestEncodeCommands(t *testing.T) {
	tests := []struct {
		cmd  Command
		want []byte
	}{
		{Init, []byte{0xF2, 0x00, 0x00, 0x03, 0x43, 0x30, 0x33, 0x03, 0xB2}},
		{Dispense, []byte{0xF2, 0x00, 0x00, 0x03, 0x43, 0x32, 0x30, 0x03, 0xB3}},
		{Status, []byte{0xF2, 0x00, 0x00, 0x03, 0x43, 0x31, 0x30, 0x03, 0xB0}},
		{ReturnToBox, []byte{0xF2, 0x00, 0x00, 0x03, 0x43, 0x32, 0x33, 0x03, 0xB0}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.Encode())
		})
	}
}

func TestDecodeSuccess(t *testing.T) {
	raw := reply('P', Status, '1', '2', '0')
	require.True(t, Complete(raw))
	assert.False(t, Complete(raw[:len(raw)-1]))

	r, err := Decode(Status, raw)
	require.NoError(t, err)
	assert.True(t, r.Success)

	flags := r.Status.Flags()
	assert.True(t, flags.CardInGate)
	assert.False(t, flags.RFICCardInGate)
	assert.True(t, flags.CardsInDispenser)
	assert.True(t, flags.DispenserFull)
	assert.False(t, flags.RecyclingBoxFull)
}

func TestDecodeFailure(t *testing.T) {
	r, err := Decode(Dispense, reply('N', Dispense, 'A', '0'))
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, "A0", r.Error.Code)
	assert.Equal(t, 1, r.Error.Priority)

	full, _ := LookupError("A4")
	assert.Equal(t, 2, full.Priority)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("nak", func(t *testing.T) {
		assert.True(t, Complete([]byte{NAK}))
		_, err := Decode(Init, []byte{NAK})
		assert.ErrorIs(t, err, ErrNotAcknowledged)
	})

	t.Run("other command", func(t *testing.T) {
		_, err := Decode(Init, reply('P', Status, '0', '0', '0'))
		assert.ErrorIs(t, err, ErrMismatch)
	})

	t.Run("bcc", func(t *testing.T) {
		raw := reply('P', Init, '0', '0', '0')
		raw[len(raw)-1] ^= 0x01
		_, err := Decode(Init, raw)
		assert.ErrorIs(t, err, ErrBCC)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := Decode(Init, reply('P', Init, '7', '0', '0'))
		assert.ErrorIs(t, err, ErrUnknownCode)
	})

	t.Run("unknown error", func(t *testing.T) {
		_, err := Decode(Init, reply('N', Init, 'Z', 'Z'))
		assert.ErrorIs(t, err, ErrUnknownCode)
	})
}
