// internal/codec/ssp/tables.go
package ssp

import "cash-device-service/pkg/devicetypes"

// Code is a table row: code, message and priority
type Code struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

var responseCodes = map[int]Code{
	240: {240, "OK", 0},
	242: {242, "COMMAND NOT KNOWN", 1},
	243: {243, "WRONG NO PARAMETERS", 1},
	244: {244, "PARAMETER OUT OF RANGE", 1},
	245: {245, "COMMAND CANNOT BE PROCESSED", 2},
	246: {246, "SOFTWARE ERROR", 1},
	248: {248, "FAIL", 1},
	250: {250, "KEY NOT SET", 1},
}

var eventCodes = map[int]Code{
	240: {240, "OK", 0},
	181: {181, "CHANNELS_DISABLED", 1},
	182: {182, "INITIALIZING", 1},
	204: {204, "STACKING", 0},
	231: {231, "STACKER_FULL", 1},
	232: {232, "DISABLED", 2},
	233: {233, "UNSAFE JAM", 1},
	234: {234, "SAFE JAM", 1},
	235: {235, "STACKED", 0},
	236: {236, "REJECTED", 0},
	237: {237, "REJECTING", 0},
	241: {241, "SLAVE_RESET", 1},
	225: {225, "CLEARED_FROM_FRONT", 1},
	226: {226, "CLEARED_TO_CASH_BOX", 1},
	230: {230, "FRAUD ATTEMPT", 1},
	239: {239, "READ", 0},
	238: {238, "CREDIT", 0},
}

var lastRejectCodes = map[int]Code{
	0:  {0, "Note accepted", 0},
	1:  {1, "Note length incorrect", 3},
	2:  {2, "Reject reason 2", 3},
	3:  {3, "Reject reason 3", 3},
	4:  {4, "Reject reason 4", 3},
	5:  {5, "Reject reason 5", 3},
	6:  {6, "Channel inhibited", 3},
	7:  {7, "Second note inserted", 2},
	8:  {8, "Reject reason 8", 3},
	9:  {9, "Note recognised in more than one channel", 1},
	10: {10, "Reject reason 10", 3},
	11: {11, "Note too long", 3},
	12: {12, "Reject reason 12", 3},
	13: {13, "Mechanism slow/stalled", 1},
	14: {14, "Strimming attempt detected", 1},
	15: {15, "Fraud channel reject", 1},
	16: {16, "No notes inserted", 3},
	17: {17, "Peak detect fail", 2},
	18: {18, "Twisted note detected", 2},
	19: {19, "Escrow time-out", 3},
	20: {20, "Bar code scan fail", 2},
	21: {21, "Rear sensor 2 fail", 1},
	22: {22, "Slot fail 1", 1},
	23: {23, "Slot fail 2", 1},
	24: {24, "Lens over-sample", 2},
	25: {25, "Width detect fail", 2},
	26: {26, "Short note detected", 2},
	27: {27, "Note payout", 3},
	28: {28, "Unable to stack note", 1},
}

func lookup(table map[int]Code, code int, missing string) Code {
	if c, ok := table[code]; ok {
		return c
	}
	return Code{Code: code, Message: missing, Priority: 1}
}

// LookupResponse returns the generic response row for code
func LookupResponse(code int) Code {
	return lookup(responseCodes, code, "Codigo de respuesta no encontrado")
}

// LookupEvent returns the poll event row for code
func LookupEvent(code int) Code {
	return lookup(eventCodes, code, "Codigo de evento no encontrado")
}

// LookupLastReject returns the last reject row for code
func LookupLastReject(code int) Code {
	return lookup(lastRejectCodes, code, "Codigo de rechazo no encontrado")
}

// BillValue returns the note value of channel, or zero
func BillValue(channel int) int {
	return devicetypes.BillChannels[channel]
}
