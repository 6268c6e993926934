package propar

import (
	"errors"
	"fmt"
)

// Domain errors for the propar package.
var (
	ErrMalformedFrame   = errors.New("propar: malformed frame")
	ErrUnknownParameter = errors.New("propar: unknown parameter")
	ErrUnexpectedAnswer = errors.New("propar: unexpected answer")
	ErrNoAnswer         = errors.New("propar: no answer")
	ErrBusClosed        = errors.New("propar: bus closed")
	ErrValueType        = errors.New("propar: value does not match parameter type")
)

// StatusError is a non-zero status returned by a node.
type StatusError struct {
	Node   byte
	Status byte
	Index  byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("propar: node %d returned status 0x%02X (%s) at byte %d",
		e.Node, e.Status, statusText(e.Status), e.Index)
}

// Status codes from the ProPar status message.
var statusTexts = map[byte]string{
	0x00: "no error",
	0x01: "process claimed",
	0x02: "command error",
	0x03: "process error",
	0x04: "parameter error",
	0x05: "parameter type error",
	0x06: "parameter value error",
	0x07: "network not active",
	0x08: "timeout start character",
	0x09: "timeout serial line",
	0x0A: "hardware memory error",
	0x0B: "node number error",
	0x0C: "general communication error",
	0x0D: "read only parameter",
	0x0E: "error PC-communication",
	0x0F: "no RS232 connection",
	0x10: "PC out of memory",
	0x11: "write only parameter",
	0x12: "system configuration unknown",
	0x13: "no free node address",
	0x14: "wrong interface type",
	0x15: "error serial port connection",
	0x16: "error opening communication",
	0x17: "communication error",
	0x18: "error interface bus master",
	0x19: "timeout answer",
	0x1A: "no start character",
	0x1B: "error first digit",
	0x1C: "buffer overflow in host",
	0x1D: "buffer overflow",
	0x1E: "no answer found",
	0x1F: "error closing communication",
	0x20: "synchronisation error",
	0x21: "send error",
	0x22: "protocol error",
	0x23: "buffer overflow in module",
}

func statusText(code byte) string {
	if s, ok := statusTexts[code]; ok {
		return s
	}
	return "unknown"
}
