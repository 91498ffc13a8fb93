// Package codec implements the tag-length-value wire format: the
// PackedValue scalar, row and key encoding on top of it, and the small
// streaming command framing the peer worker uses. MessagePack is the
// concrete TLV family; github.com/vmihailenco/msgpack/v5 provides the
// encoding.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind distinguishes a PackedValue's variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindBytes
	KindString
)

// PackedValue is a tagged wire-format scalar, used interchangeably for key
// tuples and row cells. Float is explicitly unused in keys but
// retained as a variant for completeness since row cells may carry it.
type PackedValue struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Bytes []byte
	Str   string
}

func Nil() PackedValue                 { return PackedValue{Kind: KindNil} }
func Bool(b bool) PackedValue          { return PackedValue{Kind: KindBool, Bool: b} }
func Int(i int64) PackedValue          { return PackedValue{Kind: KindInt, Int: i} }
func Uint(u uint64) PackedValue        { return PackedValue{Kind: KindUint, Uint: u} }
func Float(f float64) PackedValue      { return PackedValue{Kind: KindFloat, Float: f} }
func Bytes(b []byte) PackedValue       { return PackedValue{Kind: KindBytes, Bytes: b} }
func String(s string) PackedValue      { return PackedValue{Kind: KindString, Str: s} }

// EncodeMsgpack implements msgpack.CustomEncoder so a PackedValue is
// written using MessagePack's own native type code for its variant
// (nil/bool/int/uint/float/bin/str) rather than an extra wrapper tag.
func (v PackedValue) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.Kind {
	case KindNil:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.Bool)
	case KindInt:
		return enc.EncodeInt64(v.Int)
	case KindUint:
		return enc.EncodeUint64(v.Uint)
	case KindFloat:
		return enc.EncodeFloat64(v.Float)
	case KindBytes:
		return enc.EncodeBytes(v.Bytes)
	case KindString:
		return enc.EncodeString(v.Str)
	default:
		return fmt.Errorf("codec: unknown PackedValue kind %d", v.Kind)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder, recovering the variant
// from the native type actually found on the wire.
func (v *PackedValue) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	*v = fromNative(raw)
	return nil
}

func fromNative(raw interface{}) PackedValue {
	switch t := raw.(type) {
	case nil:
		return Nil()
	case bool:
		return Bool(t)
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case uint8:
		return Uint(uint64(t))
	case uint16:
		return Uint(uint64(t))
	case uint32:
		return Uint(uint64(t))
	case uint64:
		return Uint(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case []byte:
		return Bytes(t)
	case string:
		return String(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// Equal compares two PackedValues for semantic equality (used by
// ColumnValues.Equal/Row.Equal and by tests).
func (v PackedValue) Equal(other PackedValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt:
		return v.Int == other.Int
	case KindUint:
		return v.Uint == other.Uint
	case KindFloat:
		return v.Float == other.Float
	case KindBytes:
		return string(v.Bytes) == string(other.Bytes)
	case KindString:
		return v.Str == other.Str
	}
	return false
}

// IsNil reports whether the value is the nil variant.
func (v PackedValue) IsNil() bool { return v.Kind == KindNil }

// Encode serializes a single PackedValue to its canonical bytes.
func Encode(v PackedValue) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode parses a single PackedValue from its canonical bytes.
func Decode(data []byte) (PackedValue, error) {
	var v PackedValue
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return PackedValue{}, err
	}
	return v, nil
}
