// internal/codec/crt/errors.go
package crt

// ErrorCode is a dispenser failure reported with an 'N' reply
type ErrorCode struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

var errorCodes = map[string]ErrorCode{}

func init() {
	add := func(msg string, priority int, codes ...string) {
		for _, c := range codes {
			errorCodes[c] = ErrorCode{Code: c, Message: msg, Priority: priority}
		}
	}
	add("Undefined command", 1, "00")
	add("Errors in command parameters", 1, "01")
	add("Error in the command execution order", 1, "02")
	add("Hardware does not support commands", 1, "03")
	add("Command data error (error in communication packets DATA)", 1, "04")
	add("IC card is contacted but not released", 1, "05", "06", "07", "08", "09")
	add("Clogged card", 1, "10")
	add("Code not found, may be code is Clogged card", 1, "11")
	add("Sensor error", 1, "12")
	add("Long card error", 1, "13")
	add("Short card error", 1, "14")
	add("The card has been pulled away when recycling card", 1, "40")
	add("IC card electromagnet error", 1, "41", "42")
	add("Card cannot be moved from IC card slot", 1, "43", "44")
	add("Cards are artificially moved", 1, "45", "46", "47", "48", "49")
	add("Recycled cards counter overflows", 1, "50")
	add("Motor error", 1, "51", "52", "53", "54", "55", "56", "57", "58", "59")
	add("IC card power supply is short-circuited", 1, "60")
	add("IC card activation failed", 1, "61")
	add("IC card does not support the current command", 1, "62", "63", "64")
	add("IC card is not activated", 1, "65")
	add("The current IC card does not support the command", 1, "66")
	add("Transmission IC card data error", 1, "67")
	add("Transmission IC card data timeout", 1, "68")
	add("CPU / SAM card does not comply with EMV standard", 1, "69")
	add("Card dispensing stack (box) is empty, there is no card in card stack", 1, "A0")
	add("Card collection box is full", 2, "A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8", "A9")
	add("Card dispenser is not reset", 3, "B0")
}

// LookupError returns the row for a two character error code
func LookupError(code string) (ErrorCode, bool) {
	e, ok := errorCodes[code]
	return e, ok
}
