package safety

import "errors"

// Domain errors for the safety package.
var (
	// ErrPurgeInProgress is returned when a purge is requested while another
	// one is running.
	ErrPurgeInProgress = errors.New("safety: purge already in progress")

	// ErrPurgeAborted is returned when a purge was interrupted during the
	// dwell, by cancellation or an emergency stop. The valves have been
	// closed.
	ErrPurgeAborted = errors.New("safety: purge aborted")

	// ErrMediumMissing is recorded when the purge medium is not registered.
	ErrMediumMissing = errors.New("safety: purge medium not registered")

	// ErrInvalidConfig is returned for unusable safety settings.
	ErrInvalidConfig = errors.New("safety: invalid config")
)
