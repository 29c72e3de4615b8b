// internal/codec/crt/crt.go
package crt

import (
	"errors"
	"fmt"

	"cash-device-service/pkg/driver"
)

// Control bytes
const (
	STX byte = 0xF2
	ETX byte = 0x03
	ACK byte = 0x06
	NAK byte = 0x15
	EOT byte = 0x04

	Address byte = 0x00

	commandTag byte = 'C'
	successTag byte = 'P'
	failureTag byte = 'N'
)

var (
	ErrShortFrame      = errors.New("crt: frame too short")
	ErrNotAcknowledged = errors.New("crt: device did not acknowledge")
	ErrCorrupt         = errors.New("crt: start of frame not found")
	ErrMismatch        = errors.New("crt: reply belongs to another command")
	ErrBCC             = errors.New("crt: bcc mismatch")
	ErrUnknownCode     = errors.New("crt: unknown response code")
)

// Command is a (cm, pm) pair
type Command struct {
	CM byte
	PM byte
}

// Commands used by the dispenser driver
var (
	Init         = Command{'0', '3'}
	Status       = Command{'1', '0'}
	Dispense     = Command{'2', '0'}
	ReturnToBox  = Command{'2', '3'}
	Acknowledge  = []byte{ACK}
	statusLength = 3
)

// BCC is the xor of every byte from STX through ETX
func BCC(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// Encode builds a command frame
func (c Command) Encode() []byte {
	f := []byte{STX, Address, 0x00, 0x03, commandTag, c.CM, c.PM, ETX}
	return append(f, BCC(f))
}

func (c Command) String() string {
	return fmt.Sprintf("C%c%c", c.CM, c.PM)
}

// Complete reports whether raw holds an acknowledged reply frame or a
// single negative acknowledgement
func Complete(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	if raw[0] != ACK {
		return true
	}
	if len(raw) < 5 {
		return false
	}
	n := int(raw[3])<<8 | int(raw[4])
	return len(raw) >= 1+4+n+2
}

// Reply is a decoded answer
type Reply struct {
	Success bool
	Status  StatusReport
	Error   ErrorCode
}

// Decode validates raw against cmd. raw starts with the ACK byte.
func Decode(cmd Command, raw []byte) (Reply, error) {
	if len(raw) == 0 {
		return Reply{}, ErrShortFrame
	}
	if raw[0] != ACK {
		return Reply{}, fmt.Errorf("%w: got 0x%02X", ErrNotAcknowledged, raw[0])
	}
	if len(raw) < 10 {
		return Reply{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	if raw[1] != STX {
		return Reply{}, ErrCorrupt
	}
	if raw[6] != cmd.CM || raw[7] != cmd.PM {
		return Reply{}, ErrMismatch
	}
	n := int(raw[3])<<8 | int(raw[4])
	end := 1 + 4 + n
	if len(raw) < end+2 {
		return Reply{}, fmt.Errorf("%w: want %d data bytes", ErrShortFrame, n)
	}
	if BCC(raw[1:end+1]) != raw[end+1] {
		return Reply{}, ErrBCC
	}

	switch raw[5] {
	case successTag:
		if n < 3+statusLength {
			return Reply{}, fmt.Errorf("%w: status has %d bytes", ErrShortFrame, n-3)
		}
		st, err := ParseStatus(raw[8], raw[9], raw[10])
		if err != nil {
			return Reply{}, err
		}
		return Reply{Success: true, Status: st}, nil
	case failureTag:
		code, ok := LookupError(string(raw[8:10]))
		if !ok {
			return Reply{}, fmt.Errorf("%w: %q", ErrUnknownCode, raw[8:10])
		}
		return Reply{Error: code}, nil
	}
	return Reply{}, fmt.Errorf("%w: tag 0x%02X", ErrUnknownCode, raw[5])
}

// Gate states (st0)
const (
	GateEmpty = iota
	GateCardAtExit
	GateCardAtReader
)

// Stock states (st1)
const (
	StockEmpty = iota
	StockLow
	StockFull
)

// StatusReport is the st0 st1 st2 triple
type StatusReport struct {
	Gate        int  `json:"gate"`
	Stock       int  `json:"stock"`
	RecycleFull bool `json:"recycle_full"`
}

// ParseStatus decodes the three ASCII status digits
func ParseStatus(st0, st1, st2 byte) (StatusReport, error) {
	if st0 < '0' || st0 > '2' || st1 < '0' || st1 > '2' || st2 < '0' || st2 > '1' {
		return StatusReport{}, fmt.Errorf("%w: status %c%c%c", ErrUnknownCode, st0, st1, st2)
	}
	return StatusReport{
		Gate:        int(st0 - '0'),
		Stock:       int(st1 - '0'),
		RecycleFull: st2 == '1',
	}, nil
}

// Flags maps the report onto the driver flag snapshot
func (s StatusReport) Flags() driver.DispenserFlags {
	return driver.DispenserFlags{
		RFICCardInGate:   s.Gate == GateCardAtReader,
		RecyclingBoxFull: s.RecycleFull,
		CardInGate:       s.Gate == GateCardAtExit,
		CardsInDispenser: s.Stock != StockEmpty,
		DispenserFull:    s.Stock == StockFull,
	}
}
