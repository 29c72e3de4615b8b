// internal/codec/cctalk/cctalk.go
package cctalk

import (
	"errors"
	"fmt"
)

// Bus addresses
const (
	HostAddress   byte = 0x01
	DeviceAddress byte = 0x02
)

// Command headers used by the coin validator
const (
	HeaderReset              byte = 1
	HeaderModifyInhibit      byte = 231
	HeaderSelfCheck          byte = 232
	HeaderReadOpto           byte = 236
	HeaderReadBufferedCredit byte = 229
	HeaderRequestStatus      byte = 248
	HeaderSimplePoll         byte = 254
)

// Reply header values in the ACK position
const (
	AckOK   byte = 0
	AckNAK  byte = 5
	AckBusy byte = 6
)

// frame layout: dest, length, source, header, data..., checksum
const overhead = 5

var (
	ErrShortFrame = errors.New("cctalk: frame too short")
	ErrChecksum   = errors.New("cctalk: checksum mismatch")
	ErrEcho       = errors.New("cctalk: echo does not match command")
	ErrLength     = errors.New("cctalk: unexpected data length")
)

// Checksum returns the byte that makes the frame sum to zero modulo 256
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return -sum
}

// Encode builds a host-to-device frame
func Encode(header byte, data ...byte) []byte {
	return Frame(DeviceAddress, HostAddress, header, data...)
}

// Frame builds a frame with explicit addresses
func Frame(dest, src, header byte, data ...byte) []byte {
	f := make([]byte, 0, overhead+len(data))
	f = append(f, dest, byte(len(data)), src, header)
	f = append(f, data...)
	return append(f, Checksum(f))
}

// Prebuilt commands
var (
	SimplePoll         = Encode(HeaderSimplePoll)
	ReadBufferedCredit = Encode(HeaderReadBufferedCredit)
	Reset              = Encode(HeaderReset)
	RequestStatus      = Encode(HeaderRequestStatus)
	ReadOpto           = Encode(HeaderReadOpto)
	SelfCheck          = Encode(HeaderSelfCheck)
	EnableAll          = ModifyInhibit(0xFF, 0xFF)
)

// ModifyInhibit builds the inhibit command; a set bit enables a channel
func ModifyInhibit(mask1, mask2 int) []byte {
	return Encode(HeaderModifyInhibit, byte(mask1), byte(mask2))
}

// Reply is a decoded device answer
type Reply struct {
	Command byte
	Ack     byte
	Data    []byte
}

// Complete reports whether raw, which starts with the echoed command,
// holds a full reply frame
func Complete(cmd []byte) func([]byte) bool {
	return func(raw []byte) bool {
		n := len(cmd)
		if len(raw) < n+2 {
			return false
		}
		return len(raw) >= n+overhead+int(raw[n+1])
	}
}

// Decode strips the local echo of cmd from raw and decodes the reply frame.
// The single-wire bus returns every transmitted byte before the answer.
func Decode(cmd, raw []byte) (Reply, error) {
	n := len(cmd)
	if len(raw) < n+4 {
		return Reply{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	for i := 0; i < n; i++ {
		if raw[i] != cmd[i] {
			return Reply{}, ErrEcho
		}
	}
	reply := Reply{Command: cmd[3], Ack: raw[n+3]}
	frame := raw[n:]
	if len(frame) < overhead {
		return reply, fmt.Errorf("%w: %d reply bytes", ErrShortFrame, len(frame))
	}
	size := int(frame[1])
	if len(frame) < overhead+size {
		return reply, fmt.Errorf("%w: want %d data bytes", ErrShortFrame, size)
	}
	frame = frame[:overhead+size]
	if Checksum(frame[:len(frame)-1]) != frame[len(frame)-1] {
		return reply, ErrChecksum
	}
	reply.Data = append([]byte(nil), frame[4:4+size]...)
	return reply, nil
}

// CreditEvent is one (A, B) pair of the buffered credit answer.
// A non-zero A is a credit channel; A == 0 means B is an error code.
type CreditEvent struct {
	Channel byte
	Code    byte
}

// IsError reports whether the pair describes an error event
func (e CreditEvent) IsError() bool {
	return e.Channel == 0
}

// CreditBuffer is the decoded answer to ReadBufferedCredit
type CreditBuffer struct {
	Counter int
	Events  [5]CreditEvent
}

// DecodeCredit decodes the eleven data bytes of a buffered credit reply
func DecodeCredit(data []byte) (CreditBuffer, error) {
	if len(data) != 11 {
		return CreditBuffer{}, fmt.Errorf("%w: credit buffer has %d bytes", ErrLength, len(data))
	}
	buf := CreditBuffer{Counter: int(data[0])}
	for i := 0; i < 5; i++ {
		buf.Events[i] = CreditEvent{Channel: data[1+2*i], Code: data[2+2*i]}
	}
	return buf, nil
}

// Pending returns how many events arrived since prev. The counter wraps
// from 255 back to 1; zero only follows a reset.
func (b CreditBuffer) Pending(prev int) int {
	if b.Counter == prev {
		return 0
	}
	if b.Counter > prev {
		return b.Counter - prev
	}
	return b.Counter + 255 - prev
}

// OptoState is the decoded answer to ReadOpto
type OptoState struct {
	NotUsed        bool `json:"not_used"`
	MeasureBlocked bool `json:"measure_blocked"`
	OutBlocked     bool `json:"out_blocked"`
	COSAlert       bool `json:"cos_alert"`
}

// DecodeOpto decodes the opto state mask
func DecodeOpto(data []byte) (OptoState, error) {
	if len(data) < 1 {
		return OptoState{}, fmt.Errorf("%w: opto state is empty", ErrLength)
	}
	mask := data[0]
	return OptoState{
		NotUsed:        mask&0x01 != 0,
		MeasureBlocked: mask&0x02 != 0,
		OutBlocked:     mask&0x04 != 0,
		COSAlert:       mask&0x08 != 0,
	}, nil
}
