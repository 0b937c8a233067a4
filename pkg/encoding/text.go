// Package encoding converts short_message text to and from the SMPP data
// codings and splits long text into concatenated parts.
package encoding

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fiorix/go-smpp/smpp/pdu/pdutext"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// ErrUnsupportedCoding is returned for data codings with no text codec.
var ErrUnsupportedCoding = errors.New("unsupported data coding")

// TextEncoder handles encoding and decoding of SMS text in various formats
type TextEncoder struct{}

// NewTextEncoder creates a new text encoder
func NewTextEncoder() *TextEncoder {
	return &TextEncoder{}
}

func codec(dataCoding uint8, b []byte) (pdutext.Codec, error) {
	switch dataCoding {
	case smpp.DataCodingDefault:
		return pdutext.GSM7(b), nil
	case smpp.DataCodingISO88591:
		return pdutext.Latin1(b), nil
	case smpp.DataCodingISO88595:
		return pdutext.ISO88595(b), nil
	case smpp.DataCodingUCS2:
		return pdutext.UCS2(b), nil
	case smpp.DataCodingIA5, smpp.DataCodingBinary, smpp.DataCodingOctet:
		return pdutext.Raw(b), nil
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedCoding, dataCoding)
	}
}

// Encode encodes text based on the specified data coding
func (e *TextEncoder) Encode(text string, dataCoding uint8) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, errors.New("invalid UTF-8 string")
	}
	c, err := codec(dataCoding, []byte(text))
	if err != nil {
		return nil, err
	}
	return c.Encode(), nil
}

// Decode decodes text based on the specified data coding
func (e *TextEncoder) Decode(data []byte, dataCoding uint8) (string, error) {
	if dataCoding == smpp.DataCodingUCS2 && len(data)%2 != 0 {
		return "", errors.New("UCS2 data must have even length")
	}
	c, err := codec(dataCoding, data)
	if err != nil {
		return "", err
	}
	return string(c.Decode()), nil
}

// representable reports whether text survives a round trip through the
// coding unchanged.
func (e *TextEncoder) representable(text string, dataCoding uint8) bool {
	encoded, err := e.Encode(text, dataCoding)
	if err != nil {
		return false
	}
	if dataCoding == smpp.DataCodingDefault {
		// Unpacked septets never use the high bit; the codec hands input
		// back unchanged when it cannot encode it.
		for _, b := range encoded {
			if b > 0x7F {
				return false
			}
		}
	}
	decoded, err := e.Decode(encoded, dataCoding)
	return err == nil && decoded == text
}

// DetectOptimalEncoding returns the GSM default alphabet when it can carry
// text, Latin-1 next and UCS2 otherwise.
func (e *TextEncoder) DetectOptimalEncoding(text string) uint8 {
	switch {
	case e.representable(text, smpp.DataCodingDefault):
		return smpp.DataCodingDefault
	case e.representable(text, smpp.DataCodingISO88591):
		return smpp.DataCodingISO88591
	default:
		return smpp.DataCodingUCS2
	}
}

// GetMaxLength returns the maximum encoded octets of a single part. UDH
// leaves room for the six octet concatenation header.
func (e *TextEncoder) GetMaxLength(dataCoding uint8, hasUDH bool) int {
	if dataCoding == smpp.DataCodingDefault {
		// Unpacked septets, one per octet.
		if hasUDH {
			return 153
		}
		return 160
	}
	if hasUDH {
		return 134
	}
	return 140
}

// ValidateText validates if text can be encoded with the specified data coding
func (e *TextEncoder) ValidateText(text string, dataCoding uint8) error {
	if _, err := codec(dataCoding, nil); err != nil {
		return err
	}
	for _, r := range text {
		if !e.representable(string(r), dataCoding) {
			return fmt.Errorf("character '%c' (U+%04X) not supported by data coding 0x%02X", r, r, dataCoding)
		}
	}
	return nil
}

// CalculateEncodedLength calculates the encoded length in bytes
func (e *TextEncoder) CalculateEncodedLength(text string, dataCoding uint8) (int, error) {
	encoded, err := e.Encode(text, dataCoding)
	if err != nil {
		return 0, err
	}
	return len(encoded), nil
}

// SplitMessage encodes text and splits it at character boundaries into
// parts no longer than GetMaxLength. A text that fits one part is returned
// whole.
func (e *TextEncoder) SplitMessage(text string, dataCoding uint8) ([][]byte, error) {
	encoded, err := e.Encode(text, dataCoding)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= e.GetMaxLength(dataCoding, false) {
		return [][]byte{encoded}, nil
	}

	limit := e.GetMaxLength(dataCoding, true)
	var parts [][]byte
	var current []byte
	for _, r := range text {
		b, err := e.Encode(string(r), dataCoding)
		if err != nil {
			return nil, err
		}
		if len(current)+len(b) > limit {
			parts = append(parts, current)
			current = nil
		}
		current = append(current, b...)
	}
	if len(current) > 0 {
		parts = append(parts, current)
	}
	return parts, nil
}

// EstimatePartCount estimates how many SMS parts will be needed
func (e *TextEncoder) EstimatePartCount(text string, dataCoding uint8) int {
	parts, err := e.SplitMessage(text, dataCoding)
	if err != nil {
		return 0
	}
	return len(parts)
}

// ConcatenatedParts splits text like SplitMessage and prefixes every part of
// a multipart message with the 8-bit reference concatenation UDH. The parts
// must be sent with the UDHI bit set in esm_class.
func (e *TextEncoder) ConcatenatedParts(text string, dataCoding uint8, ref uint8) ([][]byte, error) {
	parts, err := e.SplitMessage(text, dataCoding)
	if err != nil || len(parts) == 1 {
		return parts, err
	}
	if len(parts) > 255 {
		return nil, fmt.Errorf("message needs %d parts, at most 255 allowed", len(parts))
	}
	out := make([][]byte, len(parts))
	for i, p := range parts {
		udh := []byte{0x05, 0x00, 0x03, ref, byte(len(parts)), byte(i + 1)}
		out[i] = append(udh, p...)
	}
	return out, nil
}
