// internal/driver/nv10/export_test.go
package nv10

// Simulator lets the external tests drive a validator on the fake bus
type Simulator = validator

var NewSimulator = newValidator

func (v *validator) Respond(written []byte) []byte { return v.respond(written) }
func (v *validator) Queue(events ...byte)          { v.queue(events...) }

// Mute stops the simulator from answering cmd
func (v *validator) Mute(cmd byte) { v.set(func(v *validator) { v.silent[cmd] = true }) }

func (v *validator) Calls(cmd byte) int { return v.calls(cmd) }
