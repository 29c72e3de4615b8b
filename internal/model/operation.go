// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// CommandName identifies a caller-issued device command
type CommandName string

const (
	CommandConnect        CommandName = "CONNECT"
	CommandCheckDevice    CommandName = "CHECK_DEVICE"
	CommandStartReader    CommandName = "START_READER"
	CommandStopReader     CommandName = "STOP_READER"
	CommandGetCoin        CommandName = "GET_COIN"
	CommandGetBill        CommandName = "GET_BILL"
	CommandModifyChannels CommandName = "MODIFY_CHANNELS"
	CommandResetDevice    CommandName = "RESET_DEVICE"
	CommandCleanDevice    CommandName = "CLEAN_DEVICE"
	CommandReject         CommandName = "REJECT"
	CommandDispenseCard   CommandName = "DISPENSE_CARD"
	CommandRecycleCard    CommandName = "RECYCLE_CARD"
	CommandEndProcess     CommandName = "END_PROCESS"
	CommandTestStatus     CommandName = "TEST_STATUS"
)

// CommandRecord is an in-memory trace of one executed command
type CommandRecord struct {
	ID         uuid.UUID   `json:"id"`
	DeviceID   string      `json:"device_id"`
	Command    CommandName `json:"command"`
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Severity   Severity    `json:"severity"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMs int64       `json:"duration_ms"`
}

// Failed reports whether the command ended in the 5xx band
func (r *CommandRecord) Failed() bool {
	return r.Severity == SeverityCritical
}
