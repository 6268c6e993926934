package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotConnected) {
//	    // connect first
//	}
var (
	// ErrNotConnected is returned when an operation needs an instrument and
	// none is attached.
	ErrNotConnected = errors.New("device: not connected")

	// ErrNegativeFlow is returned when a negative flow is commanded.
	ErrNegativeFlow = errors.New("device: flow cannot be negative")

	// ErrNoData is returned when the instrument answers with no value, or a
	// value of the wrong type, for a parameter that must have one.
	ErrNoData = errors.New("device: no data")

	// ErrTransport wraps failures raised by the instrument transport.
	ErrTransport = errors.New("device: transport failure")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrNilInstrument is returned when Connect is given no instrument.
	ErrNilInstrument = errors.New("device: nil instrument")
)
