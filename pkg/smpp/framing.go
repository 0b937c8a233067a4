package smpp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DeadlineReader is the byte stream a FrameReader pulls from. The read
// deadline doubles as the "is anything available" probe.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

const defaultDrainTimeout = 50 * time.Millisecond

// FrameReader splits a byte stream into PDU frames.
type FrameReader struct {
	src          DeadlineReader
	r            *bufio.Reader
	readTimeout  time.Duration
	frameTimeout time.Duration
	drainTimeout time.Duration
	maxLength    uint32
}

// NewFrameReader wraps src. readTimeout bounds each wait for a new PDU; zero
// blocks until data or an error arrives.
func NewFrameReader(src DeadlineReader, readTimeout time.Duration) *FrameReader {
	return &FrameReader{
		src:          src,
		r:            bufio.NewReader(src),
		readTimeout:  readTimeout,
		drainTimeout: defaultDrainTimeout,
		maxLength:    MaxPDULength,
	}
}

// SetFrameTimeout bounds how long the rest of a frame may take once its
// first byte has arrived. Zero waits without limit.
func (f *FrameReader) SetFrameTimeout(d time.Duration) {
	f.frameTimeout = d
}

// SetMaxLength overrides the largest command_length accepted.
func (f *FrameReader) SetMaxLength(n uint32) {
	f.maxLength = n
}

func (f *FrameReader) setDeadline(d time.Duration) error {
	if d <= 0 {
		return f.src.SetReadDeadline(time.Time{})
	}
	return f.src.SetReadDeadline(time.Now().Add(d))
}

// ReadHeader waits up to the read timeout for the next PDU header.
// It returns ErrNoData when nothing arrived, which is not a failure.
// Once a byte is in, the rest of the frame is read under the frame timeout.
// A command_length below 16 or above the maximum yields an
// *InvalidCommandLengthError after draining what is immediately available.
func (f *FrameReader) ReadHeader() (*PDUHeader, error) {
	if err := f.setDeadline(f.readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	if _, err := f.r.Peek(1); err != nil {
		if isTimeout(err) {
			return nil, ErrNoData
		}
		return nil, err
	}
	if err := f.setDeadline(f.frameTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read command length: %w", err)
	}
	commandLength := binary.BigEndian.Uint32(lenBuf[:])
	if commandLength < 16 {
		f.drain(int(commandLength) - 4)
		return nil, &InvalidCommandLengthError{CommandLength: commandLength}
	}

	var rest [12]byte
	if _, err := io.ReadFull(f.r, rest[:]); err != nil {
		return nil, fmt.Errorf("failed to read PDU header: %w", err)
	}
	header := &PDUHeader{
		CommandLength: commandLength,
		CommandID:     binary.BigEndian.Uint32(rest[0:4]),
		CommandStatus: binary.BigEndian.Uint32(rest[4:8]),
		SequenceNum:   binary.BigEndian.Uint32(rest[8:12]),
	}
	if commandLength > f.maxLength {
		f.drain(int(commandLength) - 16)
		return header, &InvalidCommandLengthError{CommandLength: commandLength}
	}
	return header, nil
}

// ReadBody reads exactly CommandLength-16 bytes following header.
func (f *FrameReader) ReadBody(header *PDUHeader) ([]byte, error) {
	n := int(header.CommandLength) - 16
	if n <= 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(f.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %d byte %s body: %w", n, CommandName(header.CommandID), err)
	}
	return body, nil
}

// drain discards up to n bytes that arrive within the drain timeout.
func (f *FrameReader) drain(n int) {
	if n <= 0 {
		return
	}
	if err := f.setDeadline(f.drainTimeout); err != nil {
		return
	}
	_, _ = io.CopyN(io.Discard, f.r, int64(n))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// FrameWriter serializes PDUs onto a stream.
type FrameWriter struct {
	w       io.Writer
	encoder *PDUEncoder
}

func NewFrameWriter(w io.Writer, encoder *PDUEncoder) *FrameWriter {
	if encoder == nil {
		encoder = NewPDUEncoder()
	}
	return &FrameWriter{w: w, encoder: encoder}
}

// WritePDU encodes and writes pdu in one call.
func (fw *FrameWriter) WritePDU(pdu *PDU) error {
	data, err := fw.encoder.Encode(pdu)
	if err != nil {
		return err
	}
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}
