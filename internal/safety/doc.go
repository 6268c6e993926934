// Package safety sequences the bench's protective actions: the emergency
// stop, the inert-gas purge and the safe shutdown.
//
// Purge sequence:
//
//	Idle ──► ClosingFuel ──► PurgingAir ──(dwell)──► ClosingAir ──► Idle
//	              │               │            │
//	              │     medium missing /   ctx cancelled /
//	              │     write failed       EmergencyStop
//	              │               ▼            ▼
//	              └──────────► EmergencyClose ─────────────────► Idle
//
// The purge setpoint is written in native device units so that it does not
// depend on the medium's calibration. Every failure path ends with all
// valves commanded closed.
package safety
