package smpp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// BindType selects the capability fixed by a bind.
type BindType uint32

const (
	BindTransmitter = BindType(CommandBindTransmitter)
	BindReceiver    = BindType(CommandBindReceiver)
	BindTransceiver = BindType(CommandBindTransceiver)
)

// BindTypeFromCommandID maps a bind request or response id to its BindType.
func BindTypeFromCommandID(commandID uint32) (BindType, error) {
	switch commandID &^ responseMask {
	case CommandBindTransmitter:
		return BindTransmitter, nil
	case CommandBindReceiver:
		return BindReceiver, nil
	case CommandBindTransceiver:
		return BindTransceiver, nil
	}
	return 0, fmt.Errorf("command 0x%08X is not a bind", commandID)
}

// ParseBindType accepts the configuration names "transmitter", "receiver"
// and "transceiver" (also "tx", "rx", "trx").
func ParseBindType(s string) (BindType, error) {
	switch strings.ToLower(s) {
	case "transmitter", "tx":
		return BindTransmitter, nil
	case "receiver", "rx":
		return BindReceiver, nil
	case "transceiver", "trx", "":
		return BindTransceiver, nil
	}
	return 0, fmt.Errorf("unknown bind type %q", s)
}

func (b BindType) CommandID() uint32 {
	return uint32(b)
}

func (b BindType) ResponseCommandID() uint32 {
	return uint32(b) | responseMask
}

func (b BindType) IsTransmittable() bool {
	return b == BindTransmitter || b == BindTransceiver
}

func (b BindType) IsReceivable() bool {
	return b == BindReceiver || b == BindTransceiver
}

// BoundState is the session state reached after this bind succeeds.
func (b BindType) BoundState() SessionState {
	switch b {
	case BindTransmitter:
		return SessionStateBoundTX
	case BindReceiver:
		return SessionStateBoundRX
	default:
		return SessionStateBoundTRX
	}
}

func (b BindType) String() string {
	switch b {
	case BindTransmitter:
		return "transmitter"
	case BindReceiver:
		return "receiver"
	case BindTransceiver:
		return "transceiver"
	default:
		return fmt.Sprintf("bind(0x%08X)", uint32(b))
	}
}

// BindParameter holds what a client sends in its bind request.
type BindParameter struct {
	BindType         BindType
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion uint8
	AddrTON          uint8
	AddrNPI          uint8
	AddressRange     string
}

func (p BindParameter) toPDU() *Bind {
	version := p.InterfaceVersion
	if version == 0 {
		version = InterfaceVersion34
	}
	return &Bind{
		Type:             p.BindType,
		SystemID:         p.SystemID,
		Password:         p.Password,
		SystemType:       p.SystemType,
		InterfaceVersion: version,
		AddrTON:          p.AddrTON,
		AddrNPI:          p.AddrNPI,
		AddressRange:     p.AddressRange,
	}
}

// bindResponder sends the answer to a bind on behalf of a BindRequest.
type bindResponder interface {
	acceptBind(req *BindRequest, systemID string, params OptionalParameters) error
	rejectBind(req *BindRequest, status uint32) error
}

// BindRequest is a bind received by a server session, waiting for the
// application to accept or reject it. Exactly one answer is sent: a second
// Accept or Reject fails with ErrBindResponded.
type BindRequest struct {
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion uint8
	AddrTON          uint8
	AddrNPI          uint8
	AddressRange     string
	SequenceNum      uint32

	bindType  BindType
	mu        sync.Mutex
	responded bool
	responder bindResponder
}

func newBindRequest(bind *Bind, seq uint32, responder bindResponder) *BindRequest {
	return &BindRequest{
		SystemID:         bind.SystemID,
		Password:         bind.Password,
		SystemType:       bind.SystemType,
		InterfaceVersion: bind.InterfaceVersion,
		AddrTON:          bind.AddrTON,
		AddrNPI:          bind.AddrNPI,
		AddressRange:     bind.AddressRange,
		SequenceNum:      seq,
		bindType:         bind.Type,
		responder:        responder,
	}
}

// BindType returns the requested bind type.
func (r *BindRequest) BindType() BindType {
	return r.bindType
}

// Accept answers bind_resp with status OK carrying systemID and moves the
// session to the bound state matching the bind type.
func (r *BindRequest) Accept(systemID string, params ...OptionalParameter) error {
	if err := ValidateString(systemID, ParamSystemID); err != nil {
		return err
	}
	if err := r.claim(); err != nil {
		return err
	}
	return r.responder.acceptBind(r, systemID, params)
}

// Reject answers bind_resp with status and leaves the session OPEN.
func (r *BindRequest) Reject(status uint32) error {
	if err := r.claim(); err != nil {
		return err
	}
	return r.responder.rejectBind(r, status)
}

func (r *BindRequest) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return ErrBindResponded
	}
	r.responded = true
	return nil
}

// Responded reports whether Accept or Reject has been called.
func (r *BindRequest) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// BindListener receives bind requests pushed by a server session. The
// listener must eventually call Accept or Reject; it may do so after
// returning.
type BindListener interface {
	OnBind(session *ServerSession, req *BindRequest)
}

// BindListenerFunc adapts a function to BindListener.
type BindListenerFunc func(session *ServerSession, req *BindRequest)

func (f BindListenerFunc) OnBind(session *ServerSession, req *BindRequest) {
	f(session, req)
}

// requestReceiver hands the first bind or outbind of a session to a single
// waiter. It is a one-shot future: the first notification completes it and
// later ones are refused with ErrIllegalState.
type requestReceiver[T any] struct {
	what     string
	mu       sync.Mutex
	request  T
	arrived  chan struct{}
	notified bool
	waited   bool
}

func newRequestReceiver[T any](what string) *requestReceiver[T] {
	return &requestReceiver[T]{what: what, arrived: make(chan struct{})}
}

func (b *requestReceiver[T]) notify(req T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notified {
		return fmt.Errorf("%w: %s already received", ErrIllegalState, b.what)
	}
	b.notified = true
	b.request = req
	close(b.arrived)
	return nil
}

// wait may be called once. It returns the request, or an error wrapping
// ErrBindTimeout when none arrives within timeout.
func (b *requestReceiver[T]) wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	b.mu.Lock()
	if b.waited {
		b.mu.Unlock()
		return zero, fmt.Errorf("%w: already waiting for %s", ErrIllegalState, b.what)
	}
	b.waited = true
	b.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-b.arrived:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.request, nil
	case <-timer:
		return zero, fmt.Errorf("%w: no %s within %s", ErrBindTimeout, b.what, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
