// Package bridge connects the flow controller to MQTT.
//
// The bridge listens for device commands and safety requests, executes them
// against the controller or safety manager, and answers on ack and event
// topics. As a telemetry sink it also publishes each device's latest reading
// as retained state.
//
//	mfc/command/<device> ──▶ set_flow | set_native_flow | close | wink ──▶ mfc/ack/<device>
//	mfc/safety/<action>  ──▶ emergency_stop | purge | close_all       ──▶ mfc/event/<action>
//	telemetry.Sample     ──▶ mfc/state/<device> (retained)
//
// Purges run in the background so the MQTT handler goroutine is never held
// for the dwell. A second purge request while one runs is answered with a
// rejected event. Emergency stops run inline and are never rejected.
package bridge
