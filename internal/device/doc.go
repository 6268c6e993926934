// Package device models the flow instruments on the bench: mass-flow
// controllers that accept a setpoint and flow meters that only measure.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                        FlowDevice                           │
//	│                                                             │
//	│  ┌─────────────────────────┐   ┌─────────────────────────┐  │
//	│  │          MFC            │   │          Meter          │  │
//	│  │  • setpoint (native)    │   │  • measure only         │  │
//	│  │  • setpoint (real)      │   │  • real == native       │  │
//	│  │  • deviation check      │   │                         │  │
//	│  │  • shared Calibration   │   │                         │  │
//	│  └────────────┬────────────┘   └────────────┬────────────┘  │
//	└───────────────│─────────────────────────────│───────────────┘
//	                ▼                             ▼
//	        instrument.Instrument (attached on Connect, cleared on Disconnect)
//
// # Units
//
// "Native" values are what the instrument reports and accepts, calibrated at
// the factory for nitrogen. "Real" values are the actual flow of the gas on
// the line. An MFC converts between the two with its Calibration; an MFC
// without one, and every Meter, treat native values as real.
//
// # Connection Lifecycle
//
// A device starts Disconnected. Connect attaches an instrument; Disconnect
// clears it. Every read, write and wink fails with ErrNotConnected while
// disconnected.
//
// # Thread Safety
//
// Each device serialises its own instrument I/O and guards its connection
// state with a mutex. Separate devices never block each other.
package device
