package controller

import (
	"errors"

	"github.com/nerrad567/mfc-control/internal/calibration"
	"github.com/nerrad567/mfc-control/internal/instrument"
)

// Standard lab layout: three controllers and a Coriolis meter on one port.
const (
	StandardCH4Address  = 1
	StandardH2Address   = 7
	StandardAirAddress  = 10
	StandardCoriAddress = 6

	StandardMeterName = "CoriFlow"
)

// AddStandardSet registers the lab's usual devices on port: CH4, H2 and Air
// controllers with their default calibrations and the CoriFlow meter. It
// does not connect them.
func (c *Controller) AddStandardSet(port string) error {
	var errs []error
	for _, spec := range []DeviceSpec{
		{Name: calibration.GasCH4, Gas: calibration.GasCH4, Locator: instrument.Locator{Port: port, Address: StandardCH4Address}},
		{Name: calibration.GasH2, Gas: calibration.GasH2, Locator: instrument.Locator{Port: port, Address: StandardH2Address}},
		{Name: calibration.GasAir, Gas: calibration.GasAir, Locator: instrument.Locator{Port: port, Address: StandardAirAddress}},
	} {
		if _, err := c.AddMFC(spec); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.AddMeter(DeviceSpec{
		Name:    StandardMeterName,
		Locator: instrument.Locator{Port: port, Address: StandardCoriAddress},
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewStandard creates a controller pre-populated with AddStandardSet.
func NewStandard(opts Options, port string) (*Controller, error) {
	c := New(opts)
	if err := c.AddStandardSet(port); err != nil {
		return nil, err
	}
	return c, nil
}
