package controller

import (
	"github.com/nerrad567/mfc-control/internal/device"
)

// Bulk operation names, used in DeviceError.Operation and metrics labels.
const (
	OpConnect   = "connect"
	OpClose     = "close"
	OpWink      = "wink"
	OpReadFlow  = "read_flow"
	OpDeviation = "check_deviation"
)

// Deviation is one controller's setpoint check result.
type Deviation struct {
	OK        bool    `json:"ok"`
	Deviation float64 `json:"deviation"`
}

// ConnectAll connects every device that is not yet connected. Failures are
// logged and collected; the remaining devices are still attempted.
func (c *Controller) ConnectAll() []DeviceError {
	var failures []DeviceError
	for _, d := range c.Devices() {
		if d.Connected() {
			continue
		}
		if err := c.connect(d); err != nil {
			c.log().Error("failed to connect device", "device", d.Name(), "error", err)
			failures = append(failures, DeviceError{Device: d.Name(), Operation: OpConnect, Err: err})
		}
	}
	c.log().Info("connect all finished", "devices", len(c.Devices()), "failures", len(failures))
	return failures
}

// CloseAll commands zero flow on every connected controller. A failure on
// one controller never prevents the others from being closed.
func (c *Controller) CloseAll() []DeviceError {
	var failures []DeviceError
	for _, m := range c.MFCs() {
		if !m.Connected() {
			continue
		}
		if err := m.Close(); err != nil {
			c.log().Error("failed to close valve", "device", m.Name(), "error", err)
			c.observe(OpClose, m.Name(), err)
			failures = append(failures, DeviceError{Device: m.Name(), Operation: OpClose, Err: err})
		}
	}
	c.log().Info("all valves closed", "failures", len(failures))
	return failures
}

// DisconnectAll closes every valve, then detaches every device. The close
// step always runs first.
func (c *Controller) DisconnectAll() []DeviceError {
	failures := c.CloseAll()
	for _, d := range c.Devices() {
		d.Disconnect()
	}
	c.log().Info("all devices disconnected")
	return failures
}

// WinkAll blinks every connected device.
func (c *Controller) WinkAll(mode device.WinkMode) []DeviceError {
	var failures []DeviceError
	for _, d := range c.Devices() {
		if !d.Connected() {
			continue
		}
		if err := d.Wink(mode); err != nil {
			c.log().Error("failed to wink device", "device", d.Name(), "error", err)
			c.observe(OpWink, d.Name(), err)
			failures = append(failures, DeviceError{Device: d.Name(), Operation: OpWink, Err: err})
		}
	}
	return failures
}

// ReadAllFlows reads the real flow of every connected controller. Devices
// whose read fails are absent from the map and listed in the failures.
func (c *Controller) ReadAllFlows() (map[string]float64, []DeviceError) {
	flows := make(map[string]float64)
	var failures []DeviceError
	for _, m := range c.MFCs() {
		if !m.Connected() {
			continue
		}
		v, err := m.ReadRealFlow()
		if err != nil {
			c.log().Error("failed to read flow", "device", m.Name(), "error", err)
			c.observe(OpReadFlow, m.Name(), err)
			failures = append(failures, DeviceError{Device: m.Name(), Operation: OpReadFlow, Err: err})
			continue
		}
		flows[m.Name()] = v
	}
	return flows, failures
}

// CheckAllDeviations runs CheckDeviation on every connected controller.
func (c *Controller) CheckAllDeviations(threshold float64) (map[string]Deviation, []DeviceError) {
	results := make(map[string]Deviation)
	var failures []DeviceError
	for _, m := range c.MFCs() {
		if !m.Connected() {
			continue
		}
		ok, dev, err := m.CheckDeviation(threshold)
		if err != nil {
			c.log().Error("failed to check deviation", "device", m.Name(), "error", err)
			c.observe(OpDeviation, m.Name(), err)
			failures = append(failures, DeviceError{Device: m.Name(), Operation: OpDeviation, Err: err})
			continue
		}
		results[m.Name()] = Deviation{OK: ok, Deviation: dev}
	}
	return results, failures
}
