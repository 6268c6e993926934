// Package calibration converts between device-native flow units and real
// gas flow units.
//
// Mass-flow controllers are factory-calibrated against a reference gas
// (nitrogen). When a different gas flows through the device, the value the
// device reports (and accepts as a setpoint) differs from the real flow.
// A Calibration holds measured (device, real) point pairs for one gas and
// interpolates linearly between them in both directions.
//
// # Key Types
//
//   - Calibration: immutable point set for one gas with Forward/Reverse mapping
//   - Table: gas-keyed lookup of calibrations, injected into a controller
//   - Store: SQLite persistence for measured calibration tables
//
// # Usage
//
//	cal, err := calibration.New("CH4",
//	    []float64{0, 0.5, 1.0},
//	    []float64{0, 0.151, 0.325},
//	)
//	if err != nil {
//	    return err
//	}
//	real := cal.Forward(0.8)    // device reading -> real flow
//	setpoint := cal.Reverse(0.2) // desired real flow -> device setpoint
//
// # Thread Safety
//
// A Calibration is never mutated after New returns, so a single instance can
// be shared by every device flowing the same gas without locking. Table is
// safe for concurrent use.
package calibration
