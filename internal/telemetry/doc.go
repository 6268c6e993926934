// Package telemetry samples every registered device on a fixed interval
// and fans each Sample out to sinks.
//
//	          ticker
//	            │
//	            ▼
//	Controller ──► Sampler.Sample() ──┬──► InfluxDB (mfc_flow)
//	                                  ├──► MQTT retained state
//	                                  ├──► WebSocket hub
//	                                  └──► Prometheus gauges
//
// Each controller costs two bus reads per tick (measured flow and
// setpoint, both native); real values come from the calibration. Meters
// cost one. A failing sink is logged and never stops the loop.
package telemetry
