package smpp

import (
	"encoding/binary"
	"fmt"
)

// OptionalParameter is a TLV appended after the mandatory fields of a PDU.
// Tags the library does not know are kept as opaque values.
type OptionalParameter struct {
	Tag   uint16
	Value []byte
}

// Length returns the TLV length field as written on the wire. Values longer
// than MaxTLVValueLength never reach the wire; composing them fails.
func (p OptionalParameter) Length() uint16 {
	return uint16(len(p.Value))
}

func NewByteParameter(tag uint16, v uint8) OptionalParameter {
	return OptionalParameter{Tag: tag, Value: []byte{v}}
}

func NewShortParameter(tag uint16, v uint16) OptionalParameter {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return OptionalParameter{Tag: tag, Value: b}
}

func NewIntParameter(tag uint16, v uint32) OptionalParameter {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return OptionalParameter{Tag: tag, Value: b}
}

// NewCStringParameter encodes s with its NUL terminator.
func NewCStringParameter(tag uint16, s string) OptionalParameter {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return OptionalParameter{Tag: tag, Value: b}
}

func NewOctetParameter(tag uint16, v []byte) OptionalParameter {
	return OptionalParameter{Tag: tag, Value: append([]byte(nil), v...)}
}

// Uint8 decodes a one-byte value.
func (p OptionalParameter) Uint8() (uint8, error) {
	if len(p.Value) != 1 {
		return 0, fmt.Errorf("tlv 0x%04X: expected 1 byte, got %d", p.Tag, len(p.Value))
	}
	return p.Value[0], nil
}

func (p OptionalParameter) Uint16() (uint16, error) {
	if len(p.Value) != 2 {
		return 0, fmt.Errorf("tlv 0x%04X: expected 2 bytes, got %d", p.Tag, len(p.Value))
	}
	return binary.BigEndian.Uint16(p.Value), nil
}

func (p OptionalParameter) Uint32() (uint32, error) {
	if len(p.Value) != 4 {
		return 0, fmt.Errorf("tlv 0x%04X: expected 4 bytes, got %d", p.Tag, len(p.Value))
	}
	return binary.BigEndian.Uint32(p.Value), nil
}

// CString returns the value with a trailing NUL stripped.
func (p OptionalParameter) CString() string {
	v := p.Value
	if n := len(v); n > 0 && v[n-1] == 0 {
		v = v[:n-1]
	}
	return string(v)
}

// OptionalParameters keeps TLVs in wire order. Lookups by tag return the
// last occurrence.
type OptionalParameters []OptionalParameter

// Get returns the last parameter carrying tag.
func (ps OptionalParameters) Get(tag uint16) (OptionalParameter, bool) {
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].Tag == tag {
			return ps[i], true
		}
	}
	return OptionalParameter{}, false
}

// Has reports whether tag is present.
func (ps OptionalParameters) Has(tag uint16) bool {
	_, ok := ps.Get(tag)
	return ok
}

func (ps *OptionalParameters) Add(p ...OptionalParameter) {
	*ps = append(*ps, p...)
}
