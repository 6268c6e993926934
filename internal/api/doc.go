// Package api implements the HTTP REST API and WebSocket stream for mfcd.
//
// This package provides:
//   - REST endpoints for device inspection, flow commands and removal
//   - Safety endpoints (emergency stop, purge, zero check)
//   - Calibration management (JSON or CSV) and audit trail access
//   - WebSocket hub broadcasting telemetry samples
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server calls the controller and safety manager directly; there is no
// message bus between the API and the devices. Live readings reach WebSocket
// clients because the Hub is registered as a telemetry sink.
//
//	HTTP ──▶ router ──▶ controller / safety.Manager ──▶ instruments
//	telemetry.Sampler ──HandleSample──▶ Hub ──▶ WebSocket clients
//
// # Graceful Degradation
//
// The calibration store, audit repository, sampler and metrics handler are
// optional.
// Their endpoints answer 503 when the dependency is missing.
//
// The API is a local bench service and performs no authentication.
package api
