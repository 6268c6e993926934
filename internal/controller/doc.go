// Package controller is the registry and coordinator for the bench's flow
// devices.
//
// A Controller keeps two name-keyed collections: mass-flow controllers
// (read-write, calibrated per gas) and meters (read-only). Names are unique
// within each collection. Lookups of unknown names fail with ErrNotFound and
// list what is registered.
//
// # Bulk Operations
//
// ConnectAll, CloseAll, DisconnectAll, WinkAll, ReadAllFlows and
// CheckAllDeviations visit every relevant device and never stop early. Each
// per-device failure is logged and returned as a DeviceError so callers see
// exactly what was skipped:
//
//	flows, failures := ctrl.ReadAllFlows()
//	for _, f := range failures {
//	    log.Warn("flow unavailable", "device", f.Device, "error", f.Err)
//	}
//
// DisconnectAll always closes every valve before detaching instruments.
//
// # Calibrations
//
// Each Controller carries its own calibration.Table. New controllers pick
// up the table entry for their gas when no calibration is given, and fall
// back to identity otherwise. All controllers of one gas share the same
// immutable Calibration.
package controller
