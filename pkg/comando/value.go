package comando

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type is the wire type of one command argument.
type Type uint8

const (
	Byte Type = iota
	Bool
	Int32
	Uint32
	Float
)

func (t Type) String() string {
	switch t {
	case Byte:
		return "byte"
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float:
		return "float"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Size is the encoded width of t in bytes.
func (t Type) Size() int {
	switch t {
	case Byte, Bool:
		return 1
	}
	return 4
}

// Value is one typed argument.
type Value struct {
	typ Type
	u   uint32
	f   float32
}

func ByteValue(v uint8) Value    { return Value{typ: Byte, u: uint32(v)} }
func Int32Value(v int32) Value   { return Value{typ: Int32, u: uint32(v)} }
func Uint32Value(v uint32) Value { return Value{typ: Uint32, u: v} }
func FloatValue(v float64) Value { return Value{typ: Float, f: float32(v)} }

func BoolValue(v bool) Value {
	if v {
		return Value{typ: Bool, u: 1}
	}
	return Value{typ: Bool}
}

// Type returns the wire type of v.
func (v Value) Type() Type { return v.typ }

// Float returns v as a float64, converting integer types.
func (v Value) Float() float64 {
	switch v.typ {
	case Float:
		return float64(v.f)
	case Int32:
		return float64(int32(v.u))
	}
	return float64(v.u)
}

// Int returns v as an int, truncating floats.
func (v Value) Int() int {
	switch v.typ {
	case Float:
		return int(v.f)
	case Int32:
		return int(int32(v.u))
	}
	return int(v.u)
}

// Bool reports whether v is non-zero.
func (v Value) Bool() bool {
	if v.typ == Float {
		return v.f != 0
	}
	return v.u != 0
}

func (v Value) String() string {
	switch v.typ {
	case Float:
		return fmt.Sprintf("%g", v.f)
	case Bool:
		return fmt.Sprintf("%t", v.Bool())
	case Int32:
		return fmt.Sprintf("%d", int32(v.u))
	}
	return fmt.Sprintf("%d", v.u)
}

// Convert builds a value of type t from a float, as used for configuration
// files that store every argument as a number.
func Convert(t Type, f float64) (Value, error) {
	switch t {
	case Byte:
		if f < 0 || f > math.MaxUint8 {
			return Value{}, fmt.Errorf("%g out of range for byte", f)
		}
		return ByteValue(uint8(f)), nil
	case Bool:
		return BoolValue(f != 0), nil
	case Int32:
		if f < math.MinInt32 || f > math.MaxInt32 {
			return Value{}, fmt.Errorf("%g out of range for int32", f)
		}
		return Int32Value(int32(f)), nil
	case Uint32:
		if f < 0 || f > math.MaxUint32 {
			return Value{}, fmt.Errorf("%g out of range for uint32", f)
		}
		return Uint32Value(uint32(f)), nil
	case Float:
		return FloatValue(f), nil
	}
	return Value{}, fmt.Errorf("unknown type %d", t)
}

func appendValue(b []byte, v Value) []byte {
	switch v.typ {
	case Byte, Bool:
		return append(b, byte(v.u))
	case Float:
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(v.f))
	}
	return binary.LittleEndian.AppendUint32(b, v.u)
}

func readValue(t Type, b []byte) Value {
	switch t {
	case Byte, Bool:
		return Value{typ: t, u: uint32(b[0])}
	case Float:
		return Value{typ: t, f: math.Float32frombits(binary.LittleEndian.Uint32(b))}
	}
	return Value{typ: t, u: binary.LittleEndian.Uint32(b)}
}

// EncodeArgs encodes values in order.
func EncodeArgs(values ...Value) []byte {
	var b []byte
	for _, v := range values {
		b = appendValue(b, v)
	}
	return b
}

// DecodeArgs decodes data as the given types, requiring every byte to be used.
func DecodeArgs(types []Type, data []byte) ([]Value, error) {
	out := make([]Value, 0, len(types))
	for i, t := range types {
		if len(data) < t.Size() {
			return nil, fmt.Errorf("%w: argument %d (%s) truncated", ErrMalformed, i, t)
		}
		out = append(out, readValue(t, data))
		data = data[t.Size():]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data))
	}
	return out, nil
}
