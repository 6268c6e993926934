// Package metrics exposes mfcd state as Prometheus series.
//
// A Collector owns its own registry so tests and multiple daemons in one
// process do not collide on the default one. It is fed from three places:
//
//	telemetry.Sampler ──HandleSample──▶ flow / setpoint / connected gauges
//	controller        ──OperationFailed─▶ mfc_device_errors_total{operation}
//	safety.Manager    ──EmergencyStopped / PurgeFinished─▶ safety counters
//
// Handler serves the registry in the text exposition format at /metrics.
package metrics
