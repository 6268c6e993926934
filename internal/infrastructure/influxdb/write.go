package influxdb

import (
	"time"
)

// Measurement names.
const (
	MeasurementFlow   = "mfc_flow"
	MeasurementSafety = "mfc_safety"
)

// FlowPoint is one device's reading at one sampler tick.
type FlowPoint struct {
	Device string
	Kind   string
	Gas    string

	Real   float64
	Native float64

	// Setpoint fields are written only for controllers.
	HasSetpoint  bool
	SetpointReal float64
	Setpoint     float64
	Deviation    float64

	Time time.Time
}

// WriteFlow writes a flow reading. Device, kind and gas are tags; the
// values are fields. Non-blocking.
func (c *Client) WriteFlow(p FlowPoint) {
	fields := map[string]any{
		"real":   p.Real,
		"native": p.Native,
	}
	if p.HasSetpoint {
		fields["setpoint_real"] = p.SetpointReal
		fields["setpoint_native"] = p.Setpoint
		fields["deviation"] = p.Deviation
	}
	c.write(MeasurementFlow, map[string]string{
		"device": p.Device,
		"kind":   p.Kind,
		"gas":    p.Gas,
	}, fields, p.Time)
}

// WriteSafetyEvent records an emergency stop, purge or shutdown so it can
// be overlaid on flow charts.
func (c *Client) WriteSafetyEvent(action, outcome string, failures int, ts time.Time) {
	c.write(MeasurementSafety,
		map[string]string{"action": action, "outcome": outcome},
		map[string]any{"failures": failures},
		ts)
}
