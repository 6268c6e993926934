package bridge

import (
	"time"

	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/safety"
	"github.com/nerrad567/mfc-control/internal/telemetry"
)

// Device command names.
const (
	CommandSetFlow       = "set_flow"
	CommandSetNativeFlow = "set_native_flow"
	CommandClose         = "close"
	CommandWink          = "wink"
)

// Safety actions, the last segment of the safety topics.
const (
	ActionEmergencyStop = "emergency_stop"
	ActionPurge         = "purge"
	ActionCloseAll      = "close_all"
)

// Units accepted by set_flow.
const (
	UnitsReal   = "real"
	UnitsNative = "native"
)

// Command is a device command received on mfc/command/<device>.
//
//	{"id": "c-17", "command": "set_flow", "value": 2.5}
//	{"command": "wink", "mode": "slow"}
type Command struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Value   *float64 `json:"value,omitempty"`

	// Units selects real (default) or native units for set_flow.
	Units string `json:"units,omitempty"`

	// Mode is the wink mode: "slow" or "long".
	Mode string `json:"mode,omitempty"`

	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

// Ack statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// Ack is published on mfc/ack/<device> for every command.
type Ack struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// SafetyRequest is the optional payload of a safety topic. An empty payload
// is a valid request.
type SafetyRequest struct {
	ID string `json:"id"`

	// Medium overrides the configured purge device.
	Medium string `json:"medium,omitempty"`
}

// Event statuses.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventRejected  = "rejected"
	EventFailed    = "failed"
)

// Event is published on mfc/event/<action>.
type Event struct {
	RequestID string                   `json:"request_id"`
	Timestamp time.Time                `json:"timestamp"`
	Action    string                   `json:"action"`
	Status    string                   `json:"status"`
	Failures  []controller.DeviceError `json:"failures,omitempty"`
	Report    *safety.PurgeReport      `json:"report,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// StateMessage is the retained payload on mfc/state/<device>.
type StateMessage struct {
	telemetry.Reading
	Timestamp time.Time `json:"timestamp"`
}
