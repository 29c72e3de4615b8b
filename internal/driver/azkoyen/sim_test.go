// internal/driver/azkoyen/sim_test.go
package azkoyen

import (
	"sync"

	"cash-device-service/internal/codec/cctalk"
)

// validator simulates a ccTalk coin validator on the single-wire bus:
// every reply is preceded by the echo of the command
type validator struct {
	mu      sync.Mutex
	counter byte
	events  [5][2]byte
	fault   byte
	opto    byte
	ack     byte
	resets  int
	inhibit []byte
	// stuck keeps the counter across resets
	stuck bool
}

func (v *validator) respond(written []byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	var data []byte
	switch written[3] {
	case cctalk.HeaderReadBufferedCredit:
		data = append(data, v.counter)
		for _, ev := range v.events {
			data = append(data, ev[0], ev[1])
		}
	case cctalk.HeaderSelfCheck:
		data = []byte{v.fault}
	case cctalk.HeaderReadOpto:
		data = []byte{v.opto}
	case cctalk.HeaderModifyInhibit:
		v.inhibit = append([]byte(nil), written[4:6]...)
	case cctalk.HeaderReset:
		v.resets++
		if !v.stuck {
			v.counter = 0
			v.events = [5][2]byte{}
		}
	}

	reply := cctalk.Frame(cctalk.HostAddress, cctalk.DeviceAddress, v.ack, data...)
	return append(append([]byte(nil), written...), reply...)
}

func (v *validator) push(channel, code byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.events[1:], v.events[:4])
	v.events[0] = [2]byte{channel, code}
	v.counter++
	if v.counter == 0 {
		v.counter = 1
	}
}

func (v *validator) coin(channel byte) { v.push(channel, 1) }

func (v *validator) fail(code byte) { v.push(0, code) }

func (v *validator) set(fn func(v *validator)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v)
}
