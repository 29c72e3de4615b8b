// internal/driver/azkoyen/export_test.go
package azkoyen

// Simulator lets the external tests drive a validator on the fake bus
type Simulator = validator

func (v *validator) Respond(written []byte) []byte { return v.respond(written) }
func (v *validator) Coin(channel byte)             { v.coin(channel) }
func (v *validator) Fail(code byte)                { v.fail(code) }
