// Package propar implements the Bronkhorst ProPar ASCII protocol over a
// serial link, exposing each FLOW-BUS node as an instrument.Instrument.
//
// # Frame Format
//
// Every message is a line of hexadecimal byte pairs:
//
//	:LLNNCC<data...>\r\n
//
//	LL  number of bytes that follow (node + command + data)
//	NN  node address
//	CC  command: 04 request, 02 answer, 01 write, 00 status
//
// Parameter data is addressed by process number and parameter index; the top
// three bits of the index byte carry the value type (char, int, float,
// string). The DDE numbers used by the device layer are translated to
// process/parameter pairs through a fixed table.
//
// # Architecture
//
//	┌───────┐  Open(loc)  ┌───────────┐  one per port  ┌────────┐
//	│  Bus  │ ──────────► │  Master   │ ─────────────► │ serial │
//	└───────┘             └───────────┘                └────────┘
//	                          ▲   ▲
//	                       Node  Node   (share the port, exchanges serialised)
//
// A read that gets no answer within the port's read timeout returns
// (nil, nil), the instrument "no data" signal. Malformed answers, status
// errors and I/O failures are returned as errors.
package propar
