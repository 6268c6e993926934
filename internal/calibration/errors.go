package calibration

import "errors"

// Domain errors for the calibration package.
var (
	// ErrInvalid is returned when calibration points cannot form a usable
	// bidirectional mapping (length mismatch, too few points, non-monotonic
	// or non-finite values).
	ErrInvalid = errors.New("calibration: invalid points")

	// ErrNotFound is returned when no calibration exists for a gas.
	ErrNotFound = errors.New("calibration: not found")
)
