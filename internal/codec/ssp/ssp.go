// internal/codec/ssp/ssp.go
package ssp

import (
	"errors"
	"fmt"
)

// STX opens every frame
const STX byte = 0x7F

// Command codes
const (
	CmdReset       byte = 0x01
	CmdSetChannels byte = 0x02
	CmdDisplayOn   byte = 0x03
	CmdDisplayOff  byte = 0x04
	CmdPoll        byte = 0x07
	CmdReject      byte = 0x08
	CmdDisable     byte = 0x09
	CmdEnable      byte = 0x0A
	CmdSync        byte = 0x11
	CmdLastReject  byte = 0x17
	CmdHold        byte = 0x18
)

// Generic response codes
const (
	RespOK              = 240
	RespUnknownCommand  = 242
	RespWrongParameters = 243
	RespOutOfRange      = 244
	RespCannotProcess   = 245
	RespSoftwareError   = 246
	RespFail            = 248
	RespKeyNotSet       = 250
)

// Poll events
const (
	EventChannelsDisabled = 181
	EventInitializing     = 182
	EventStacking         = 204
	EventClearedFront     = 225
	EventClearedCashbox   = 226
	EventFraud            = 230
	EventStackerFull      = 231
	EventDisabled         = 232
	EventUnsafeJam        = 233
	EventSafeJam          = 234
	EventStacked          = 235
	EventRejected         = 236
	EventRejecting        = 237
	EventCredit           = 238
	EventRead             = 239
	EventSlaveReset       = 241
)

var (
	ErrShortFrame = errors.New("ssp: frame too short")
	ErrStart      = errors.New("ssp: missing start byte")
	ErrCRC        = errors.New("ssp: crc mismatch")
)

// SetChannelsAll enables the seven note channels at the device level;
// per-note inhibition is applied by the host
var SetChannelsAll = []byte{CmdSetChannels, 0xFF, 0xFF, 0xFF}

// CRC computes CRC-16 (poly 0x8005, seed 0xFFFF, MSB first)
func CRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Sequencer alternates the sequence flag between frames
type Sequencer struct {
	high bool
}

// Sync resets the flag; the next frame carries 0x80
func (s *Sequencer) Sync() {
	s.high = false
}

// Next toggles and returns the sequence byte
func (s *Sequencer) Next() byte {
	s.high = !s.high
	if s.high {
		return 0x80
	}
	return 0x00
}

// Encode builds a frame with the given sequence byte. The CRC covers
// sequence, length and data and is sent low byte first.
func Encode(seq byte, data ...byte) []byte {
	f := make([]byte, 0, 5+len(data))
	f = append(f, STX, seq, byte(len(data)))
	f = append(f, data...)
	crc := CRC(f[1:])
	return append(f, byte(crc), byte(crc>>8))
}

// Complete reports whether raw holds a whole frame
func Complete(raw []byte) bool {
	if len(raw) < 3 {
		return false
	}
	return len(raw) >= 5+int(raw[2])
}

// Response is a decoded device answer
type Response struct {
	Seq  byte
	Data []byte
}

// Code is the generic response code
func (r Response) Code() int {
	if len(r.Data) == 0 {
		return 0
	}
	return int(r.Data[0])
}

// Len is the data length field
func (r Response) Len() int {
	return len(r.Data)
}

// Event is the first poll event, or the last reject code
func (r Response) Event() int {
	if len(r.Data) < 2 {
		return 0
	}
	return int(r.Data[1])
}

// Channel is the note channel following the event
func (r Response) Channel() int {
	if len(r.Data) < 3 {
		return 0
	}
	return int(r.Data[2])
}

// AdditionalEvent is the event following the channel
func (r Response) AdditionalEvent() int {
	if len(r.Data) < 4 {
		return 0
	}
	return int(r.Data[3])
}

// Decode validates framing and CRC
func Decode(raw []byte) (Response, error) {
	if len(raw) < 5 {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	if raw[0] != STX {
		return Response{}, ErrStart
	}
	n := int(raw[2])
	if len(raw) < 5+n {
		return Response{}, fmt.Errorf("%w: want %d data bytes", ErrShortFrame, n)
	}
	crc := CRC(raw[1 : 3+n])
	if raw[3+n] != byte(crc) || raw[4+n] != byte(crc>>8) {
		return Response{}, ErrCRC
	}
	return Response{Seq: raw[1], Data: append([]byte(nil), raw[3:3+n]...)}, nil
}
