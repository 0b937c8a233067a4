package smpp

import (
	"bytes"
	"encoding/binary"
	"io"
)

// bodyWriter composes PDU bodies. Every string goes through the validator
// before it is written, so anything composed here can be decomposed again.
type bodyWriter struct {
	buf bytes.Buffer
	err error
}

func (w *bodyWriter) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *bodyWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *bodyWriter) cstring(s string, param StringParameter) {
	if w.err != nil {
		return
	}
	if err := ValidateString(s, param); err != nil {
		w.err = err
		return
	}
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// shortMessage writes sm_length followed by the message bytes.
func (w *bodyWriter) shortMessage(sm []byte) {
	if w.err != nil {
		return
	}
	if err := ValidateOctets(sm, ParamShortMessage); err != nil {
		w.err = err
		return
	}
	w.buf.WriteByte(byte(len(sm)))
	w.buf.Write(sm)
}

// tlvs writes each parameter as tag, length, value. A value too long for the
// 16 bit length field fails the whole body.
func (w *bodyWriter) tlvs(params OptionalParameters) {
	if w.err != nil {
		return
	}
	var b [4]byte
	for _, p := range params {
		if err := ValidateOctets(p.Value, ParamTLVValue); err != nil {
			w.err = err
			return
		}
		binary.BigEndian.PutUint16(b[0:2], p.Tag)
		binary.BigEndian.PutUint16(b[2:4], p.Length())
		w.buf.Write(b[:])
		w.buf.Write(p.Value)
	}
}

func (w *bodyWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// bodyReader decomposes PDU bodies. The first failure sticks and later reads
// return zero values, so callers check err once at the end.
type bodyReader struct {
	data []byte
	pos  int
	err  error
}

func newBodyReader(data []byte) *bodyReader {
	return &bodyReader{data: data}
}

func (r *bodyReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *bodyReader) fail(field string, err error) {
	if r.err == nil {
		r.err = &DecodeError{Field: field, Status: StatusInvCmdLen, Err: err}
	}
}

func (r *bodyReader) u8(field string) uint8 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 1 {
		r.fail(field, io.ErrUnexpectedEOF)
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *bodyReader) u32(field string) uint32 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 4 {
		r.fail(field, io.ErrUnexpectedEOF)
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// cstring reads up to and including the NUL terminator and validates the
// value. A missing terminator is reported against the field's own status.
func (r *bodyReader) cstring(param StringParameter) string {
	if r.err != nil {
		return ""
	}
	idx := bytes.IndexByte(r.data[r.pos:], 0)
	if idx < 0 {
		r.err = &PDUStringError{Param: param, Length: r.remaining(), Reason: "missing NUL terminator"}
		return ""
	}
	s := string(r.data[r.pos : r.pos+idx])
	r.pos += idx + 1
	if err := ValidateString(s, param); err != nil {
		r.err = err
		return ""
	}
	return s
}

// shortMessage reads sm_length and the message. sm_length is unsigned.
func (r *bodyReader) shortMessage() []byte {
	n := int(r.u8("sm_length") & 0xFF)
	if r.err != nil {
		return nil
	}
	if r.remaining() < n {
		r.fail("short_message", io.ErrUnexpectedEOF)
		return nil
	}
	sm := append([]byte(nil), r.data[r.pos:r.pos+n]...)
	r.pos += n
	if err := ValidateOctets(sm, ParamShortMessage); err != nil {
		r.err = err
		return nil
	}
	return sm
}

// tlvs reads optional parameters until the body is exhausted.
func (r *bodyReader) tlvs() OptionalParameters {
	if r.err != nil {
		return nil
	}
	var params OptionalParameters
	for r.remaining() > 0 {
		if r.remaining() < 4 {
			r.err = &DecodeError{Field: "optional parameter header", Status: StatusInvOptParStream, Err: io.ErrUnexpectedEOF}
			return nil
		}
		tag := binary.BigEndian.Uint16(r.data[r.pos:])
		length := int(binary.BigEndian.Uint16(r.data[r.pos+2:]))
		r.pos += 4
		if r.remaining() < length {
			r.err = &DecodeError{Field: "optional parameter value", Status: StatusInvOptParStream, Err: io.ErrUnexpectedEOF}
			return nil
		}
		value := append([]byte(nil), r.data[r.pos:r.pos+length]...)
		r.pos += length
		params = append(params, OptionalParameter{Tag: tag, Value: value})
	}
	return params
}
