package instrument

import "errors"

// Domain errors for the instrument package.
var (
	// ErrPoolClosed is returned by Dial after Close.
	ErrPoolClosed = errors.New("instrument: pool closed")

	// ErrInvalidLocator is returned for an empty port or an address outside 0-127.
	ErrInvalidLocator = errors.New("instrument: invalid locator")

	// ErrUnsupportedValue is returned when a written value has the wrong type
	// for the parameter.
	ErrUnsupportedValue = errors.New("instrument: unsupported value")
)
