package device

import (
	"fmt"
	"math"

	"github.com/nerrad567/mfc-control/internal/calibration"
	"github.com/nerrad567/mfc-control/internal/instrument"
)

// DefaultDeviationThreshold is the setpoint/measure gap, in native units,
// above which a controller is reported as deviating.
const DefaultDeviationThreshold = 0.05

// MFC is a mass-flow controller: it measures flow and accepts a setpoint.
type MFC struct {
	base

	cal *calibration.Calibration

	// lastSetpoint is the last native setpoint successfully commanded; guarded by mu.
	lastSetpoint float64
	commanded    bool
}

// NewMFC creates a disconnected controller. cal may be nil, in which case
// native units are treated as real units. The calibration is shared, not
// copied.
func NewMFC(name string, loc instrument.Locator, gas string, cal *calibration.Calibration) (*MFC, error) {
	m := &MFC{cal: cal}
	if err := m.base.init(name, KindController, loc, gas); err != nil {
		return nil, err
	}
	return m, nil
}

// Calibration returns the attached calibration, or nil.
func (m *MFC) Calibration() *calibration.Calibration {
	return m.cal
}

// LastSetpoint returns the last native setpoint commanded through this
// device, or 0 if none has been.
func (m *MFC) LastSetpoint() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSetpoint
}

// ReadNativeFlow reads the measured flow in device units.
func (m *MFC) ReadNativeFlow() (float64, error) {
	return m.readFloat(instrument.ParamMeasure)
}

// ReadRealFlow reads the measured flow converted to real units.
func (m *MFC) ReadRealFlow() (float64, error) {
	v, err := m.ReadNativeFlow()
	if err != nil {
		return 0, err
	}
	return m.toReal(v), nil
}

// ReadNativeSetpoint reads the active setpoint in device units.
func (m *MFC) ReadNativeSetpoint() (float64, error) {
	return m.readFloat(instrument.ParamSetpoint)
}

// ReadRealSetpoint reads the active setpoint converted to real units.
func (m *MFC) ReadRealSetpoint() (float64, error) {
	v, err := m.ReadNativeSetpoint()
	if err != nil {
		return 0, err
	}
	return m.toReal(v), nil
}

// SetNativeFlow commands a setpoint in device units. Negative values are
// rejected and leave the last setpoint unchanged.
func (m *MFC) SetNativeFlow(v float64) error {
	if v < 0 || math.IsNaN(v) {
		return fmt.Errorf("%w: %s setpoint %g", ErrNegativeFlow, m.name, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.instrumentLocked()
	if err != nil {
		return err
	}
	if err := inst.WriteParameter(instrument.ParamSetpoint, v); err != nil {
		return m.transportErr("writing", instrument.ParamSetpoint, err)
	}
	m.lastSetpoint = v
	m.commanded = true
	m.logger.Debug("setpoint written", "device", m.name, "native", v)
	return nil
}

// SetRealFlow commands a setpoint in real units. Values outside the
// calibrated range are extrapolated and logged as a warning.
func (m *MFC) SetRealFlow(v float64) error {
	if v < 0 || math.IsNaN(v) {
		return fmt.Errorf("%w: %s setpoint %g", ErrNegativeFlow, m.name, v)
	}

	native := v
	if m.cal != nil {
		if !m.cal.RealInRange(v) {
			m.log().Warn("setpoint outside calibrated range, extrapolating",
				"device", m.name,
				"real", v,
				"min", m.cal.MinReal(),
				"max", m.cal.MaxReal(),
			)
		}
		native = m.cal.Reverse(v)
	}

	if err := m.SetNativeFlow(native); err != nil {
		return err
	}
	m.log().Info("flow set", "device", m.name, "real", v, "native", native)
	return nil
}

// Close commands zero flow.
func (m *MFC) Close() error {
	if err := m.SetNativeFlow(0); err != nil {
		return err
	}
	m.log().Info("valve closed", "device", m.name)
	return nil
}

// CheckDeviation compares the setpoint with the measured flow, both in
// native units. ok is false when the gap exceeds threshold; that is a
// report, not an error.
func (m *MFC) CheckDeviation(threshold float64) (ok bool, deviation float64, err error) {
	setpoint, err := m.ReadNativeSetpoint()
	if err != nil {
		return false, 0, err
	}
	measured, err := m.ReadNativeFlow()
	if err != nil {
		return false, 0, err
	}

	deviation = math.Abs(setpoint - measured)
	ok = deviation <= threshold
	if !ok {
		m.log().Warn("flow deviates from setpoint",
			"device", m.name,
			"deviation", deviation,
			"threshold", threshold,
		)
	}
	return ok, deviation, nil
}

// Info implements FlowDevice.
func (m *MFC) Info() Info {
	info := m.base.info()
	info.Calibrated = m.cal != nil

	m.mu.Lock()
	if m.commanded {
		sp := m.lastSetpoint
		info.LastSetpoint = &sp
	}
	m.mu.Unlock()
	return info
}

func (m *MFC) toReal(native float64) float64 {
	if m.cal == nil {
		return native
	}
	return m.cal.Forward(native)
}
