package instrument

import (
	"fmt"
	"strconv"
)

// Parameter is a numbered instrument parameter (DDE number).
type Parameter int

// Parameters used by the flow devices. The numbers match the Bronkhorst
// FLOW-BUS DDE register map.
const (
	ParamWink      Parameter = 1
	ParamCapacity  Parameter = 21
	ParamDeviceTag Parameter = 115
	ParamMeasure   Parameter = 205
	ParamSetpoint  Parameter = 206
)

// String returns a readable parameter name.
func (p Parameter) String() string {
	switch p {
	case ParamWink:
		return "wink"
	case ParamCapacity:
		return "capacity"
	case ParamDeviceTag:
		return "device_tag"
	case ParamMeasure:
		return "measure"
	case ParamSetpoint:
		return "setpoint"
	default:
		return "dde_" + strconv.Itoa(int(p))
	}
}

// Instrument is a single addressable node on a transport.
//
// ReadParameter returns (nil, nil) when the instrument did not answer; this
// is "no data", not a transport failure. Transport failures are returned as
// errors by both methods.
type Instrument interface {
	ReadParameter(p Parameter) (any, error)
	WriteParameter(p Parameter, value any) error
}

// MaxAddress is the highest FLOW-BUS node address.
const MaxAddress = 127

// Locator identifies one node: the port it is attached to and its address on
// that bus.
type Locator struct {
	Port    string `json:"port" yaml:"port"`
	Address int    `json:"address" yaml:"address"`
}

// String returns "port:address", the pool cache key.
func (l Locator) String() string {
	return l.Port + ":" + strconv.Itoa(l.Address)
}

// Validate checks that the locator can address a node.
func (l Locator) Validate() error {
	if l.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidLocator)
	}
	if l.Address < 0 || l.Address > MaxAddress {
		return fmt.Errorf("%w: address %d out of range 0-%d", ErrInvalidLocator, l.Address, MaxAddress)
	}
	return nil
}

// Opener creates instruments for locators.
type Opener interface {
	Open(loc Locator) (Instrument, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(loc Locator) (Instrument, error)

// Open calls f(loc).
func (f OpenerFunc) Open(loc Locator) (Instrument, error) {
	return f(loc)
}

// AsFloat converts a numeric parameter value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
