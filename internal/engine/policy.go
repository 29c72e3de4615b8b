// internal/engine/policy.go
package engine

import (
	"cash-device-service/internal/driver/azkoyen"
	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/model"
)

// verdict is what the loop does after one poll
type verdict int

const (
	// carryOn keeps polling
	carryOn verdict = iota
	// retry keeps polling but counts a transport failure
	retry
	// halt stops the loop and leaves the session as it is
	halt
	// teardown stops the loop and faults the session
	teardown
)

func (v verdict) String() string {
	switch v {
	case carryOn:
		return "continue"
	case retry:
		return "retry"
	case halt:
		return "halt"
	default:
		return "teardown"
	}
}

// Outcome is one decoded poll result as seen by the loop
type Outcome struct {
	Code    int
	Event   model.DeviceEvent
	Publish bool
	verdict verdict
}

// Halted reports whether the loop stops after this outcome
func (o Outcome) Halted() bool {
	return o.verdict == halt || o.verdict == teardown
}

// TearsDown reports whether the session must be faulted after this outcome
func (o Outcome) TearsDown() bool {
	return o.verdict == teardown
}

// coinVerdict classifies a GetCoin status code. The no-event sentinel is
// never published. A critical error faults the session and drops the link.
// The warning limit only stops the loop: the session stays Reading until
// the next StopReader, which answers 509 and moves it to ERROR.
func coinVerdict(code int) (verdict, bool) {
	switch code {
	case azkoyen.CodeNoEvent:
		return carryOn, false
	case azkoyen.CodeNoAnswer:
		return retry, false
	case azkoyen.CodeNotStarted:
		return halt, false
	case azkoyen.CodeCritical:
		return teardown, true
	case azkoyen.CodeWarnLimit:
		return halt, true
	}
	return carryOn, true
}

// billVerdict classifies a GetBill status code. A note credited under an
// error is published before the session is torn down.
func billVerdict(code int) (verdict, bool) {
	switch code {
	case nv10.CodeNoEvent, nv10.CodeRepeated:
		return carryOn, false
	case nv10.CodeNoAnswer:
		return retry, false
	case nv10.CodeNotStarted:
		return halt, false
	case nv10.CodeCreditedError, nv10.CodeSevere:
		return teardown, true
	}
	if code >= 400 {
		return halt, true
	}
	return carryOn, true
}
