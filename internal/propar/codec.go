package propar

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/mfc-control/internal/instrument"
)

// Command codes.
const (
	CmdStatus  byte = 0x00
	CmdWrite   byte = 0x01
	CmdAnswer  byte = 0x02
	CmdRequest byte = 0x04
)

const (
	startChar = ':'

	// maxStringLen is the longest string a single parameter can carry.
	maxStringLen = 0xFF

	// headerLen is node + command.
	headerLen = 2
)

// Frame is one decoded ProPar message.
type Frame struct {
	Node    byte
	Command byte
	Data    []byte
}

// Encode renders the frame as an ASCII line including the trailing CRLF.
func (f Frame) Encode() []byte {
	raw := make([]byte, 0, 1+headerLen+len(f.Data))
	raw = append(raw, byte(headerLen+len(f.Data)), f.Node, f.Command)
	raw = append(raw, f.Data...)

	out := make([]byte, 0, 1+2*len(raw)+2)
	out = append(out, startChar)
	out = append(out, strings.ToUpper(hex.EncodeToString(raw))...)
	out = append(out, '\r', '\n')
	return out
}

// DecodeFrame parses one ASCII line. Leading noise before the start
// character and trailing CR/LF are ignored.
func DecodeFrame(line []byte) (Frame, error) {
	start := bytes.IndexByte(line, startChar)
	if start < 0 {
		return Frame{}, fmt.Errorf("%w: missing start character", ErrMalformedFrame)
	}
	body := bytes.TrimRight(line[start+1:], "\r\n")

	raw := make([]byte, hex.DecodedLen(len(body)))
	if _, err := hex.Decode(raw, body); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if len(raw) < 1+headerLen {
		return Frame{}, fmt.Errorf("%w: %d bytes is too short", ErrMalformedFrame, len(raw))
	}
	if int(raw[0]) != len(raw)-1 {
		return Frame{}, fmt.Errorf("%w: length byte %d, got %d bytes", ErrMalformedFrame, raw[0], len(raw)-1)
	}

	return Frame{
		Node:    raw[1],
		Command: raw[2],
		Data:    raw[3:],
	}, nil
}

// RequestFrame builds a read request for ref on node.
func RequestFrame(node byte, ref Ref) Frame {
	data := []byte{
		ref.Process, ref.indexByte(), // reply address
		ref.Process, ref.indexByte(), // requested parameter
	}
	if ref.Type == TypeString {
		data = append(data, 0) // 0 = return the full string
	}
	return Frame{Node: node, Command: CmdRequest, Data: data}
}

// WriteFrame builds a write-with-status message for ref on node.
func WriteFrame(node byte, ref Ref, value any) (Frame, error) {
	encoded, err := encodeValue(ref.Type, value)
	if err != nil {
		return Frame{}, err
	}
	data := append([]byte{ref.Process, ref.indexByte()}, encoded...)
	return Frame{Node: node, Command: CmdWrite, Data: data}, nil
}

// DecodeAnswer extracts the value of ref from an answer frame.
func DecodeAnswer(f Frame, ref Ref) (any, error) {
	if f.Command == CmdStatus {
		return nil, statusFromFrame(f)
	}
	if f.Command != CmdAnswer {
		return nil, fmt.Errorf("%w: command 0x%02X", ErrUnexpectedAnswer, f.Command)
	}
	if len(f.Data) < 2 {
		return nil, fmt.Errorf("%w: answer too short", ErrMalformedFrame)
	}
	if f.Data[0]&0x7F != ref.Process || f.Data[1]&indexMask != ref.Parameter&indexMask {
		return nil, fmt.Errorf("%w: answer for process %d parameter %d",
			ErrUnexpectedAnswer, f.Data[0]&0x7F, f.Data[1]&indexMask)
	}
	return decodeValue(Type(f.Data[1]&typeMask), f.Data[2:])
}

// DecodeStatus checks a status frame returned for a write.
func DecodeStatus(f Frame) error {
	if f.Command != CmdStatus {
		return fmt.Errorf("%w: expected status, got command 0x%02X", ErrUnexpectedAnswer, f.Command)
	}
	return statusFromFrame(f)
}

func statusFromFrame(f Frame) error {
	if len(f.Data) < 1 {
		return fmt.Errorf("%w: empty status", ErrMalformedFrame)
	}
	if f.Data[0] == 0 {
		return nil
	}
	se := &StatusError{Node: f.Node, Status: f.Data[0]}
	if len(f.Data) > 1 {
		se.Index = f.Data[1]
	}
	return se
}

func encodeValue(t Type, value any) ([]byte, error) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrValueType, value)
		}
		if len(s) > maxStringLen {
			return nil, fmt.Errorf("%w: string of %d bytes exceeds %d", ErrValueType, len(s), maxStringLen)
		}
		return append([]byte{byte(len(s))}, s...), nil

	case TypeFloat:
		v, ok := instrument.AsFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: want number, got %T", ErrValueType, value)
		}
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(v))), nil

	case TypeInt:
		v, ok := instrument.AsFloat(value)
		if !ok || v < 0 || v > math.MaxUint16 {
			return nil, fmt.Errorf("%w: want 0-65535, got %v", ErrValueType, value)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(v)), nil

	case TypeChar:
		v, ok := instrument.AsFloat(value)
		if !ok || v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("%w: want 0-255, got %v", ErrValueType, value)
		}
		return []byte{byte(v)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrValueType, t)
}

func decodeValue(t Type, data []byte) (any, error) {
	switch t {
	case TypeString:
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: missing string length", ErrMalformedFrame)
		}
		n := int(data[0])
		rest := data[1:]
		if n == 0 || n > len(rest) {
			n = len(rest)
		}
		return string(bytes.TrimRight(rest[:n], "\x00")), nil

	case TypeFloat:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: float needs 4 bytes, got %d", ErrMalformedFrame, len(data))
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(data))), nil

	case TypeInt:
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: int needs 2 bytes, got %d", ErrMalformedFrame, len(data))
		}
		return int(binary.BigEndian.Uint16(data)), nil

	case TypeChar:
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: char needs 1 byte", ErrMalformedFrame)
		}
		return int(data[0]), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrValueType, t)
}
