// internal/protocol/protocoltest/transport.go
package protocoltest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
)

// ErrWrite is returned by Write when a transport is set to fail writes
var ErrWrite = errors.New("protocoltest: write failed")

// Responder produces the bytes a device answers to one written frame.
// Returning nil leaves the line silent.
type Responder func(written []byte) []byte

// Transport is an in-memory protocol.Transport driven by a Responder
type Transport struct {
	mu         sync.Mutex
	address    string
	open       bool
	openErr    error
	failWrites bool
	responder  Responder
	inbox      []byte
	writes     [][]byte
	chunk      int
}

// New returns a closed fake transport for address
func New(address string, responder Responder) *Transport {
	return &Transport{address: address, responder: responder}
}

// Silent returns a transport that opens but never answers
func Silent(address string) *Transport {
	return New(address, nil)
}

// Unopenable returns a transport whose Open fails
func Unopenable(address string) *Transport {
	t := New(address, nil)
	t.openErr = errors.New("protocoltest: no such port")
	return t
}

// Script answers the n-th write with replies[n]. Writes past the end stay
// silent.
func Script(replies ...[]byte) Responder {
	var mu sync.Mutex
	n := 0
	return func([]byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		if n >= len(replies) {
			return nil
		}
		r := replies[n]
		n++
		return r
	}
}

// Table answers each known request with a fixed reply
func Table(pairs map[string][]byte) Responder {
	return func(written []byte) []byte {
		return pairs[string(written)]
	}
}

// SetResponder swaps the device behaviour
func (t *Transport) SetResponder(r Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responder = r
}

// FailWrites makes every following Write return ErrWrite
func (t *Transport) FailWrites(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrites = fail
}

// Chunk limits every Read to n bytes so frames arrive in pieces
func (t *Transport) Chunk(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunk = n
}

// Inject queues unsolicited bytes
func (t *Transport) Inject(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = append(t.inbox, b...)
}

// Writes returns a copy of every frame written so far
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	for i, w := range t.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Wrote reports whether frame was written at least once
func (t *Transport) Wrote(frame []byte) bool {
	for _, w := range t.Writes() {
		if bytes.Equal(w, frame) {
			return true
		}
	}
	return false
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	t.inbox = nil
	return nil
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return protocol.ErrClosed
	}
	t.writes = append(t.writes, append([]byte(nil), data...))
	if t.failWrites {
		return ErrWrite
	}
	if t.responder != nil {
		t.inbox = append(t.inbox, t.responder(data)...)
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil, protocol.ErrClosed
	}
	n := len(t.inbox)
	if n > maxBytes {
		n = maxBytes
	}
	if t.chunk > 0 && n > t.chunk {
		n = t.chunk
	}
	out := append([]byte(nil), t.inbox[:n]...)
	t.inbox = t.inbox[n:]
	return out, nil
}

func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = nil
	return nil
}

func (t *Transport) GetProtocolType() model.ConnectionType { return model.ConnectionTypeSerial }

func (t *Transport) Address() string { return t.address }

func (t *Transport) Stats() protocol.ProtocolStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return protocol.ProtocolStats{OperationCount: int64(len(t.writes)), IsConnected: t.open}
}

// Opener serves the given transports by address. Unknown addresses fail
// to open.
func Opener(transports ...*Transport) protocol.Opener {
	byAddr := make(map[string]*Transport, len(transports))
	for _, t := range transports {
		byAddr[t.address] = t
	}
	return func(address string) protocol.Transport {
		if t, ok := byAddr[address]; ok {
			return t
		}
		return Unopenable(address)
	}
}
