// Package influxdb writes mfcd telemetry to InfluxDB v2.
//
// Two measurements are written:
//
//	mfc_flow    tags device, kind, gas
//	            fields real, native, setpoint_real, setpoint_native, deviation
//	mfc_safety  tags action, outcome
//	            fields failures
//
// Writes are non-blocking and batched (influxdb.batch_size points or every
// influxdb.flush_interval seconds). Asynchronous failures are delivered to
// the SetOnError callback.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry runs without InfluxDB
//	}
//	defer client.Close()
//
//	client.WriteFlow(influxdb.FlowPoint{Device: "CH4", Gas: "CH4", Real: 1.2, Native: 2.4})
package influxdb
