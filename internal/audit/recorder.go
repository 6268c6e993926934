package audit

import (
	"context"
)

// Entity types written by the recorders.
const (
	EntitySafety      = "safety"
	EntityDevice      = "device"
	EntityCalibration = "calibration"
)

// Recorder turns domain events into audit log rows. It satisfies the
// safety manager's Recorder interface.
type Recorder struct {
	repo   Repository
	source string
}

// NewRecorder creates a recorder that tags rows with source (e.g. "mfcd",
// "api", "mqtt").
func NewRecorder(repo Repository, source string) *Recorder {
	return &Recorder{repo: repo, source: source}
}

// WithSource returns a recorder sharing the repository but tagging rows
// with a different source.
func (r *Recorder) WithSource(source string) *Recorder {
	return &Recorder{repo: r.repo, source: source}
}

// RecordSafetyEvent writes an emergency stop, purge or shutdown.
func (r *Recorder) RecordSafetyEvent(ctx context.Context, action string, details map[string]any) error {
	return r.repo.Create(ctx, &AuditLog{
		Action:     action,
		EntityType: EntitySafety,
		Source:     r.source,
		Details:    details,
	})
}

// RecordDeviceEvent writes an operator action on one device, such as a
// setpoint change or removal.
func (r *Recorder) RecordDeviceEvent(ctx context.Context, action, device string, details map[string]any) error {
	return r.repo.Create(ctx, &AuditLog{
		Action:     action,
		EntityType: EntityDevice,
		EntityID:   device,
		Source:     r.source,
		Details:    details,
	})
}

// RecordCalibrationEvent writes a calibration change for gas.
func (r *Recorder) RecordCalibrationEvent(ctx context.Context, action, gas string, details map[string]any) error {
	return r.repo.Create(ctx, &AuditLog{
		Action:     action,
		EntityType: EntityCalibration,
		EntityID:   gas,
		Source:     r.source,
		Details:    details,
	})
}
