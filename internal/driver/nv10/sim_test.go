// internal/driver/nv10/sim_test.go
package nv10

import (
	"sync"

	"cash-device-service/internal/codec/ssp"
)

// validator simulates an NV10 answering SSP frames. Poll replies are
// taken from a queue; an empty queue answers a bare OK.
type validator struct {
	mu         sync.Mutex
	polls      [][]byte
	lastReject byte
	refuse     map[byte]byte
	silent     map[byte]bool
	replay     bool
	last       []byte
	count      map[byte]int
}

func newValidator() *validator {
	return &validator{
		refuse: make(map[byte]byte),
		silent: make(map[byte]bool),
		count:  make(map[byte]int),
	}
}

func (v *validator) respond(written []byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, err := ssp.Decode(written)
	if err != nil || len(req.Data) == 0 {
		return nil
	}
	cmd := req.Data[0]
	v.count[cmd]++

	if v.replay && v.last != nil {
		v.replay = false
		return v.last
	}
	if v.silent[cmd] {
		return nil
	}

	data := []byte{ssp.RespOK}
	if code, ok := v.refuse[cmd]; ok {
		data = []byte{code}
	} else {
		switch cmd {
		case ssp.CmdPoll:
			if len(v.polls) > 0 {
				data = append(data, v.polls[0]...)
				v.polls = v.polls[1:]
			}
		case ssp.CmdLastReject:
			data = append(data, v.lastReject)
		}
	}

	v.last = ssp.Encode(req.Seq, data...)
	return v.last
}

// queue adds the events of one poll reply
func (v *validator) queue(events ...byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.polls = append(v.polls, events)
}

func (v *validator) set(fn func(v *validator)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v)
}

func (v *validator) calls(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count[cmd]
}
