package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrUnknownCommand is returned for a device command the bridge does not implement.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrMissingValue is returned when a flow command carries no value.
	ErrMissingValue = errors.New("bridge: value is required")

	// ErrNotController is returned when a flow command targets a meter.
	ErrNotController = errors.New("bridge: device is not a flow controller")

	// ErrUnknownAction is returned for an unrecognised safety topic.
	ErrUnknownAction = errors.New("bridge: unknown safety action")
)
