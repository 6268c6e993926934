package device

import "github.com/nerrad567/mfc-control/internal/instrument"

// Meter is a read-only flow meter, typically a Coriolis meter measuring
// true mass flow. Its readings need no gas correction.
type Meter struct {
	base
}

// NewMeter creates a disconnected meter.
func NewMeter(name string, loc instrument.Locator, gas string) (*Meter, error) {
	m := &Meter{}
	if err := m.base.init(name, KindMeter, loc, gas); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadNativeFlow reads the measured flow.
func (m *Meter) ReadNativeFlow() (float64, error) {
	return m.readFloat(instrument.ParamMeasure)
}

// ReadRealFlow is the same reading as ReadNativeFlow.
func (m *Meter) ReadRealFlow() (float64, error) {
	return m.ReadNativeFlow()
}

// Info implements FlowDevice.
func (m *Meter) Info() Info {
	return m.base.info()
}

var (
	_ FlowDevice = (*MFC)(nil)
	_ FlowDevice = (*Meter)(nil)
)
