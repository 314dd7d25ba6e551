package domain

import (
	"fmt"
	"reflect"
	"slices"
)

// Kind identifies the wire type of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindFloat
	KindBool
	KindString
	KindFloats
	KindStrings
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindFloats:
		return "float[]"
	case KindStrings:
		return "string[]"
	case KindStruct:
		return "struct"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the canonical unit carried on the telemetry bus. It is a tagged
// union: Kind selects which payload field is meaningful. Scalar kinds stay
// off the heap so the per-tick publish path does not allocate.
type Value struct {
	Kind   Kind      `cbor:"k" json:"kind"`
	Num    float64   `cbor:"n,omitempty" json:"num,omitempty"`
	Bool   bool      `cbor:"b,omitempty" json:"bool,omitempty"`
	Str    string    `cbor:"s,omitempty" json:"str,omitempty"`
	Floats []float64 `cbor:"fs,omitempty" json:"floats,omitempty"`
	Strs   []string  `cbor:"ss,omitempty" json:"strs,omitempty"`
	Any    any       `cbor:"x,omitempty" json:"any,omitempty"`
}

func Float(v float64) Value        { return Value{Kind: KindFloat, Num: v} }
func Bool(v bool) Value            { return Value{Kind: KindBool, Bool: v} }
func Str(v string) Value           { return Value{Kind: KindString, Str: v} }
func FloatSlice(v []float64) Value { return Value{Kind: KindFloats, Floats: v} }
func StrSlice(v []string) Value    { return Value{Kind: KindStrings, Strs: v} }
func Struct(v any) Value           { return Value{Kind: KindStruct, Any: v} }

// Equal reports whether two values of the same kind carry the same payload.
// Struct payloads compare by deep value equality; mismatched kinds are never
// equal.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindFloat:
		return a.Num == b.Num
	case KindBool:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindFloats:
		return slices.Equal(a.Floats, b.Floats)
	case KindStrings:
		return slices.Equal(a.Strs, b.Strs)
	case KindStruct:
		return reflect.DeepEqual(a.Any, b.Any)
	default:
		return false
	}
}
