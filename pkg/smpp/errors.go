package smpp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoData is returned by FrameReader.ReadHeader when the read deadline
	// passes before any byte of a new PDU arrives. It is not a failure.
	ErrNoData = errors.New("smpp: no data available")

	// ErrSessionClosed fails every pending request when a session shuts down.
	ErrSessionClosed = errors.New("smpp: session closed")

	// ErrDuplicateSequence is returned when a sequence number is already pending.
	ErrDuplicateSequence = errors.New("smpp: sequence number already pending")

	// ErrIllegalState marks API misuse, such as answering a bind request twice.
	ErrIllegalState = errors.New("smpp: illegal state")

	// ErrBindResponded is returned by a second Accept or Reject of one bind.
	ErrBindResponded = fmt.Errorf("%w: bind response already initiated", ErrIllegalState)

	// ErrInvalidState is raised locally for PDUs received while unbound or closed.
	ErrInvalidState = errors.New("smpp: invalid process for session state")

	ErrNotBound = errors.New("smpp: session is not bound")

	// ErrBindTimeout is returned when no bind or outbind arrives in time.
	ErrBindTimeout = errors.New("smpp: timed out waiting for bind")
)

// StatusError is implemented by errors that carry an SMPP command_status.
type StatusError interface {
	error
	CommandStatus() uint32
}

// StatusOf extracts the SMPP status carried by err, or returns fallback.
func StatusOf(err error, fallback uint32) uint32 {
	var se StatusError
	if errors.As(err, &se) {
		return se.CommandStatus()
	}
	return fallback
}

// InvalidCommandLengthError is a framing error: the declared command_length
// cannot describe a valid PDU. The connection cannot be resynchronized.
type InvalidCommandLengthError struct {
	CommandLength uint32
}

func (e *InvalidCommandLengthError) Error() string {
	return fmt.Sprintf("smpp: invalid command length %d", e.CommandLength)
}

func (e *InvalidCommandLengthError) CommandStatus() uint32 {
	return StatusInvCmdLen
}

// UnknownCommandError is returned by the decoder for unsupported command ids.
type UnknownCommandError struct {
	CommandID uint32
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("smpp: unsupported command id 0x%08X", e.CommandID)
}

func (e *UnknownCommandError) CommandStatus() uint32 {
	return StatusInvCmdID
}

// PDUStringError reports a field that violates its length or encoding class.
type PDUStringError struct {
	Param  StringParameter
	Length int
	Reason string
}

func (e *PDUStringError) Error() string {
	return fmt.Sprintf("smpp: invalid %s (length %d): %s", e.Param.Name, e.Length, e.Reason)
}

func (e *PDUStringError) CommandStatus() uint32 {
	return e.Param.Status
}

// DecodeError reports a malformed body field other than a string.
type DecodeError struct {
	Field  string
	Status uint32
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("smpp: malformed %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("smpp: malformed %s", e.Field)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) CommandStatus() uint32 {
	return e.Status
}

// NegativeResponseError means the peer answered a request with a non-zero status.
type NegativeResponseError struct {
	CommandID uint32
	Status    uint32
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("smpp: %s rejected with status 0x%08X", CommandName(e.CommandID), e.Status)
}

func (e *NegativeResponseError) CommandStatus() uint32 {
	return e.Status
}

// ResponseTimeoutError means no response arrived in time for a request.
type ResponseTimeoutError struct {
	CommandID   uint32
	SequenceNum uint32
	After       time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("smpp: no response for %s (sequence %d) after %s",
		CommandName(e.CommandID), e.SequenceNum, e.After)
}

// Timeout lets callers treat the error like a net.Error timeout.
func (e *ResponseTimeoutError) Timeout() bool {
	return true
}

// InvalidResponseError means a response could not be matched to the request
// that is waiting for it, or could not be decoded.
type InvalidResponseError struct {
	Message string
	Err     error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("smpp: invalid response: %s: %v", e.Message, e.Err)
	}
	return "smpp: invalid response: " + e.Message
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// ProcessRequestError is returned by listeners to reject an inbound request
// with a specific SMPP status.
type ProcessRequestError struct {
	Message string
	Status  uint32
}

func NewProcessRequestError(status uint32, format string, args ...interface{}) *ProcessRequestError {
	return &ProcessRequestError{Message: fmt.Sprintf(format, args...), Status: status}
}

func (e *ProcessRequestError) Error() string {
	return fmt.Sprintf("smpp: request rejected (status 0x%08X): %s", e.Status, e.Message)
}

func (e *ProcessRequestError) CommandStatus() uint32 {
	return e.Status
}

// IsRetryable reports whether a failed request may be re-issued as is on the
// same session. Timeouts are retryable; peer rejections and closed sessions
// are not.
func IsRetryable(err error) bool {
	var timeout *ResponseTimeoutError
	return errors.As(err, &timeout)
}
