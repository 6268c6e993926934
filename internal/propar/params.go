package propar

import (
	"fmt"

	"github.com/nerrad567/mfc-control/internal/instrument"
)

// Type is the parameter value type, encoded in the top bits of the
// parameter index byte.
type Type byte

// Parameter value types.
const (
	TypeChar   Type = 0x00
	TypeInt    Type = 0x20
	TypeFloat  Type = 0x40
	TypeString Type = 0x60

	typeMask  = 0x60
	indexMask = 0x1F
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeChar:
		return "char"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(0x%02X)", byte(t))
	}
}

// Ref addresses one parameter on a node.
type Ref struct {
	Process   byte
	Parameter byte
	Type      Type
}

// indexByte returns the parameter byte with the type bits set.
func (r Ref) indexByte() byte {
	return byte(r.Type) | (r.Parameter & indexMask)
}

// ddeTable maps the DDE numbers the device layer uses to process/parameter
// addresses.
var ddeTable = map[instrument.Parameter]Ref{
	instrument.ParamWink:      {Process: 0, Parameter: 0, Type: TypeString},
	instrument.ParamCapacity:  {Process: 1, Parameter: 13, Type: TypeFloat},
	instrument.ParamDeviceTag: {Process: 113, Parameter: 6, Type: TypeString},
	instrument.ParamMeasure:   {Process: 33, Parameter: 0, Type: TypeFloat},
	instrument.ParamSetpoint:  {Process: 33, Parameter: 3, Type: TypeFloat},
}

// Lookup returns the process/parameter address for a DDE number.
func Lookup(p instrument.Parameter) (Ref, error) {
	ref, ok := ddeTable[p]
	if !ok {
		return Ref{}, fmt.Errorf("%w: DDE %d", ErrUnknownParameter, int(p))
	}
	return ref, nil
}
