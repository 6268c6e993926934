// Package instrument defines the transport boundary between flow devices and
// the physical instruments behind them.
//
// An Instrument exposes numbered parameters (DDE numbers in Bronkhorst
// terms) that can be read and written. The device layer only depends on the
// Instrument interface; concrete transports live elsewhere:
//
//	┌──────────────┐   Dial(Locator)   ┌────────┐   Open   ┌──────────────────┐
//	│  controller  │ ────────────────► │  Pool  │ ───────► │ Opener           │
//	└──────────────┘                   └────────┘          │  propar.Bus      │
//	                                                       │  SimulatedOpener │
//	                                                       └──────────────────┘
//
// The Pool caches one Instrument per port:address so that repeated connects
// reuse the same node handle, and closes the underlying transport on
// shutdown.
//
// Simulator is an in-memory Instrument with a first-order flow response. It
// backs the simulated transport mode and most tests.
package instrument
