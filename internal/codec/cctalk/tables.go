// internal/codec/cctalk/tables.go
package cctalk

import "cash-device-service/pkg/devicetypes"

// PollError describes an error code reported inside the credit buffer
type PollError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Rejected int    `json:"rejected"`
	Critical int    `json:"critical"`
}

// IsCritical reports whether the error counts towards the critical threshold
func (e PollError) IsCritical() bool {
	return e.Critical == 1
}

// Fault describes a self-check fault code
type Fault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Self-check classification
const (
	FaultNone     = 0
	FaultBlocked  = 1
	FaultHardware = 2
	FaultSoftware = 3
)

const unknownMessage = "Codigo de error no encontrado"

var pollErrors = map[int]PollError{
	0:   {0, "Null event", 0, 0},
	1:   {1, "Reject coin", 1, 3},
	2:   {2, "Inhibited coin", 1, 0},
	3:   {3, "Multiple window", 1, 3},
	4:   {4, "Wake-up timeout", 2, 3},
	5:   {5, "Validation timeout", 2, 3},
	6:   {6, "Credit sensor timeout", 2, 2},
	7:   {7, "Sorter opto timeout", 0, 3},
	8:   {8, "2nd close coin error", 1, 3},
	9:   {9, "Accept gate not ready", 1, 2},
	10:  {10, "Credit sensor not ready", 1, 2},
	11:  {11, "Sorter not ready", 1, 0},
	12:  {12, "Reject coin not cleared", 1, 1},
	13:  {13, "Validation sensor not ready", 1, 1},
	14:  {14, "Credit sensor blocked", 1, 1},
	15:  {15, "Sorter opto blocked", 1, 1},
	16:  {16, "Credit sequence error", 0, 2},
	17:  {17, "Coin going backwards", 0, 2},
	18:  {18, "Coin too fast", 0, 0},
	19:  {19, "Coin too slow", 0, 0},
	20:  {20, "C.O.S. mechanism activated", 0, 2},
	21:  {21, "DCE opto timeout", 2, 0},
	22:  {22, "DCE opto not seen", 1, 0},
	23:  {23, "Credit sensor reached too early", 0, 3},
	24:  {24, "Reject coin", 1, 3},
	25:  {25, "Reject slug", 1, 3},
	26:  {26, "Reject sensor blocked", 0, 1},
	27:  {27, "Games overload", 0, 3},
	28:  {28, "Max. coin meter pulses exceeded", 0, 3},
	29:  {29, "Accept gate open not closed", 0, 1},
	30:  {30, "Accept gate closed not open", 1, 1},
	31:  {31, "Manifold opto timeout", 0, 3},
	32:  {32, "Manifold opto blocked", 1, 1},
	33:  {33, "Manifold not ready", 1, 3},
	34:  {34, "Security status changed", 2, 3},
	35:  {35, "Motor exception", 2, 2},
	36:  {36, "Swallowed coin", 0, 3},
	37:  {37, "Coin too fast", 1, 0},
	38:  {38, "Coin too slow", 1, 0},
	39:  {39, "Coin incorrectly sorted", 0, 3},
	40:  {40, "External light attack", 0, 2},
	253: {253, "Data block request", 0, 3},
	254: {254, "Coin return mechanism activated", 0, 3},
	255: {255, "Unspecified alarm code", 0, 2},
}

// LookupPollError returns the table entry for code. Codes 128-159 are
// per-channel inhibit reports.
func LookupPollError(code int) PollError {
	if e, ok := pollErrors[code]; ok {
		return e
	}
	if code >= 128 && code <= 159 {
		return PollError{Code: code, Message: "Inhibited coin", Rejected: 1}
	}
	return PollError{Code: code, Message: unknownMessage}
}

var faults = map[int]string{
	0:   "OK",
	1:   "Firmware checksum corrupted",
	2:   "Fault on electromagnetic sensors",
	3:   "Fault on credit sensors",
	4:   "Fault on sound sensor or piezoelectric",
	6:   "Fault on diameter sensor",
	20:  "Fault on COS mechanism (is open)",
	28:  "Sensor module not responding",
	30:  "Datablock checksum corrupted",
	33:  "Voltage of module sensor is wrong",
	34:  "Fault on temperature sensor",
	35:  "Fault on double-in sensor",
	41:  "Error in COS mechanism (open)",
	253: "Coin jam in measurement system",
	255: "No valid hardware test: Measuring a coin inside",
}

// LookupFault returns the table entry for a self-check code
func LookupFault(code int) Fault {
	if msg, ok := faults[code]; ok {
		return Fault{Code: code, Message: msg}
	}
	return Fault{Code: code, Message: unknownMessage}
}

// Classify maps a self-check fault onto blocked, hardware or software
func (f Fault) Classify() int {
	switch f.Code {
	case 0, 2, 20:
		return FaultNone
	case 253:
		return FaultBlocked
	case 1, 30, 255:
		return FaultSoftware
	default:
		return FaultHardware
	}
}

// CoinValue returns the value credited on channel, or zero
func CoinValue(channel int) int {
	return devicetypes.CoinChannels[channel]
}
