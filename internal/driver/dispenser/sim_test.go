// internal/driver/dispenser/sim_test.go
package dispenser

import (
	"sync"

	"cash-device-service/internal/codec/crt"
)

// machine simulates a CRT dispenser: a card stack, a gate and a
// recycling box
type machine struct {
	mu          sync.Mutex
	cards       int
	gate        int
	recycleFull bool
	recycled    int
	// jam leaves a dispensed card at the reader
	jam bool
	// taken removes a dispensed card before the next status
	taken bool
	fail  map[crt.Command]string
	// mute counts replies to drop per command; the command still acts
	mute map[crt.Command]int
	// muteAfterDispense drops that many status replies after a dispense
	muteAfterDispense int
}

func newMachine(cards int) *machine {
	return &machine{
		cards: cards,
		fail:  make(map[crt.Command]string),
		mute:  make(map[crt.Command]int),
	}
}

func (m *machine) respond(written []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(written) < 9 {
		return nil
	}
	cmd := crt.Command{CM: written[5], PM: written[6]}

	if code, ok := m.fail[cmd]; ok {
		return frame('N', cmd, code[0], code[1])
	}

	switch cmd {
	case crt.Dispense:
		if m.cards == 0 {
			return frame('N', cmd, 'A', '0')
		}
		m.cards--
		m.mute[crt.Status] += m.muteAfterDispense
		switch {
		case m.jam:
			m.gate = crt.GateCardAtReader
		case m.taken:
			m.gate = crt.GateEmpty
		default:
			m.gate = crt.GateCardAtExit
		}
	case crt.ReturnToBox:
		if m.gate == crt.GateCardAtExit {
			m.gate = crt.GateEmpty
			m.recycled++
		}
	}

	if m.mute[cmd] > 0 {
		m.mute[cmd]--
		return nil
	}
	return frame('P', cmd, m.status()...)
}

func (m *machine) status() []byte {
	stock := crt.StockFull
	switch {
	case m.cards == 0:
		stock = crt.StockEmpty
	case m.cards < 10:
		stock = crt.StockLow
	}
	box := byte('0')
	if m.recycleFull {
		box = '1'
	}
	return []byte{byte('0' + m.gate), byte('0' + stock), box}
}

func (m *machine) set(fn func(m *machine)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func frame(tag byte, cmd crt.Command, payload ...byte) []byte {
	body := append([]byte{tag, cmd.CM, cmd.PM}, payload...)
	f := []byte{crt.STX, crt.Address, byte(len(body) >> 8), byte(len(body))}
	f = append(f, body...)
	f = append(f, crt.ETX)
	f = append(f, crt.BCC(f))
	return append([]byte{crt.ACK}, f...)
}
