package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// Encode converts a value into the slot bytes of a field type.
//
//	int     8-byte big-endian two's complement
//	string  UTF-8 bytes
//	bool    one byte, 0x01 or 0x00
//	address UTF-8 bytes
func Encode(t ir.FieldType, v ir.Value) ([]byte, error) {
	switch t {
	case ir.FieldInt:
		n, ok := v.(ir.Int)
		if !ok {
			return nil, fmt.Errorf("expected int, got %T", v)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf, nil
	case ir.FieldString:
		s, ok := v.(ir.String)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return []byte(s), nil
	case ir.FieldAddress:
		s, ok := v.(ir.String)
		if !ok {
			return nil, fmt.Errorf("expected address string, got %T", v)
		}
		return []byte(s), nil
	case ir.FieldBool:
		b, ok := v.(ir.Bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}

// Decode interprets slot bytes as a field type. It never fails: an unset slot
// is the type's zero value, and bytes written under a different type decode
// to whatever they mean under this one.
func Decode(t ir.FieldType, raw []byte) ir.Value {
	switch t {
	case ir.FieldInt:
		if len(raw) > 8 {
			raw = raw[len(raw)-8:]
		}
		buf := make([]byte, 8)
		copy(buf[8-len(raw):], raw)
		return ir.Int(int64(binary.BigEndian.Uint64(buf)))
	case ir.FieldBool:
		for _, b := range raw {
			if b != 0 {
				return ir.Bool(true)
			}
		}
		return ir.Bool(false)
	case ir.FieldString, ir.FieldAddress:
		return ir.String(raw)
	default:
		return ir.Null{}
	}
}
