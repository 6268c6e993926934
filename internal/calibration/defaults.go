package calibration

// Gas identifiers with built-in calibration data.
const (
	GasCH4 = "CH4"
	GasH2  = "H2"
	GasAir = "Air"
)

// Measured against the lab's reference meter. Device values are in the
// controllers' native (nitrogen-equivalent) units, real values in ln/min.
var (
	ch4Device = []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1, 0.0}
	ch4Real   = []float64{0.325, 0.286, 0.251, 0.215, 0.182, 0.151, 0.120, 0.089, 0.058, 0.028, 0.0}

	h2Device = []float64{2.0, 1.8, 1.6, 1.4, 1.2, 1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1, 0.0}
	h2Real   = []float64{2.019, 1.802, 1.602, 1.405, 1.201, 1.005, 0.899, 0.795, 0.703, 0.595, 0.493, 0.393, 0.291, 0.197, 0.111, 0.0}

	airDevice = []float64{1.4, 1.2, 1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.35, 0.30, 0.25, 0.20, 0.15, 0.10, 0.05, 0.0}
	airReal   = []float64{1.826, 1.566, 1.307, 1.176, 1.046, 0.916, 0.783, 0.654, 0.525, 0.460, 0.395, 0.330, 0.265, 0.200, 0.135, 0.069, 0.0}
)

// Defaults returns a fresh table with the built-in CH4, H2 and Air
// calibrations.
func Defaults() *Table {
	return NewTable(
		mustNew(GasCH4, ch4Device, ch4Real),
		mustNew(GasH2, h2Device, h2Real),
		mustNew(GasAir, airDevice, airReal),
	)
}

func mustNew(gas string, device, real []float64) *Calibration {
	c, err := New(gas, device, real)
	if err != nil {
		panic("calibration: built-in table for " + gas + ": " + err.Error())
	}
	return c
}
