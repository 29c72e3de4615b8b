// internal/driver/nv10/escrow.go
package nv10

import (
	"fmt"
	"time"

	"cash-device-service/pkg/driver"
)

// ErrNotInEscrow is returned by Reject when no note is held
var ErrNotInEscrow = fmt.Errorf("%w: no note in escrow", driver.ErrValidation)

// EscrowState tracks the note currently inside the validator
type EscrowState string

const (
	EscrowIdle         EscrowState = "IDLE"
	EscrowNoteDetected EscrowState = "NOTE_DETECTED"
	EscrowPending      EscrowState = "ESCROW_PENDING"
	EscrowStacked      EscrowState = "STACKED"
	EscrowRejected     EscrowState = "REJECTED"
)

// EscrowSnapshot is a read-only view of the escrow
type EscrowSnapshot struct {
	State    EscrowState `json:"state"`
	Bill     int         `json:"bill"`
	Deadline *time.Time  `json:"deadline,omitempty"`
	Expired  bool        `json:"expired"`
}

// Escrow holds at most one note and the deadline armed when it became
// pending. It is fed with every GetBill outcome.
type Escrow struct {
	timeout  time.Duration
	now      func() time.Time
	state    EscrowState
	bill     int
	deadline time.Time
}

// NewEscrow creates an idle escrow with the given decision window
func NewEscrow(timeout time.Duration) *Escrow {
	return &Escrow{timeout: timeout, now: time.Now, state: EscrowIdle}
}

// Observe advances the escrow with one poll outcome
func (e *Escrow) Observe(b driver.Bill) {
	switch b.StatusCode {
	case CodeReading:
		if e.state != EscrowPending {
			e.state = EscrowNoteDetected
		}
	case CodeNoteDetected, CodeStacking, CodeCredited:
		if b.Bill > 0 {
			e.bill = b.Bill
		}
		e.arm()
	case CodeStacked, CodeCreditedStacked, CodeCreditedError:
		e.state = EscrowStacked
		e.deadline = time.Time{}
	case CodeRejecting, CodeRejected, CodeInhibited, CodeReturned:
		e.state = EscrowRejected
		e.deadline = time.Time{}
	default:
		if b.StatusCode >= 500 {
			e.Reset()
		}
	}
}

func (e *Escrow) arm() {
	if e.state == EscrowPending {
		return
	}
	e.state = EscrowPending
	e.deadline = e.now().Add(e.timeout)
}

// Pending reports whether a note waits for a stack or reject decision
func (e *Escrow) Pending() bool {
	return e.state == EscrowPending
}

// Expired reports whether the pending note outlived its deadline
func (e *Escrow) Expired() bool {
	return e.Pending() && !e.now().Before(e.deadline)
}

// Reset forgets any note
func (e *Escrow) Reset() {
	e.state = EscrowIdle
	e.bill = 0
	e.deadline = time.Time{}
}

// Snapshot returns the current escrow view
func (e *Escrow) Snapshot() EscrowSnapshot {
	s := EscrowSnapshot{State: e.state, Bill: e.bill, Expired: e.Expired()}
	if !e.deadline.IsZero() {
		d := e.deadline
		s.Deadline = &d
	}
	return s
}
