package controller

import (
	"github.com/nerrad567/mfc-control/internal/device"
)

// DeviceStatus is one device's entry in a status summary. Flow fields are
// only set for connected devices whose reads succeeded.
type DeviceStatus struct {
	device.Info
	FlowReal     *float64 `json:"flow_real,omitempty"`
	SetpointReal *float64 `json:"setpoint_real,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Status summarises the registry.
type Status struct {
	Controllers    []DeviceStatus `json:"controllers"`
	Meters         []DeviceStatus `json:"meters"`
	ConnectedCount int            `json:"connected_count"`
	TotalCount     int            `json:"total_count"`
}

// Status reads every connected device and reports its state. Read failures
// are recorded per device instead of failing the summary.
func (c *Controller) Status() Status {
	st := Status{
		Controllers: []DeviceStatus{},
		Meters:      []DeviceStatus{},
	}

	for _, m := range c.MFCs() {
		ds := DeviceStatus{Info: m.Info()}
		if ds.Connected {
			st.ConnectedCount++
			if v, err := m.ReadRealFlow(); err == nil {
				ds.FlowReal = &v
			} else {
				ds.Error = err.Error()
			}
			if v, err := m.ReadRealSetpoint(); err == nil {
				ds.SetpointReal = &v
			} else if ds.Error == "" {
				ds.Error = err.Error()
			}
		}
		st.Controllers = append(st.Controllers, ds)
		st.TotalCount++
	}

	for _, m := range c.Meters() {
		ds := DeviceStatus{Info: m.Info()}
		if ds.Connected {
			st.ConnectedCount++
			if v, err := m.ReadRealFlow(); err == nil {
				ds.FlowReal = &v
			} else {
				ds.Error = err.Error()
			}
		}
		st.Meters = append(st.Meters, ds)
		st.TotalCount++
	}

	return st
}
