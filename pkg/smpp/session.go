package smpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oarkflow/smpp-engine/internal/flowcontrol"
)

// requestHandler receives the inbound requests that the dispatch table
// forwards and that the shared session does not answer by itself.
type requestHandler interface {
	handleRequest(ctx context.Context, pdu *PDU)
}

// session is the connection core shared by Client and ServerSession: one
// reader goroutine, a serialized writer, the pending-response tracker and
// the state machine.
type session struct {
	id      string
	role    Role
	conn    net.Conn
	config  SessionConfig
	reader  *FrameReader
	encoder *PDUEncoder
	decoder *PDUDecoder
	writeMu sync.Mutex
	seq     *SequenceGenerator
	pending *PendingResponses
	state   sessionStateHolder
	window  *flowcontrol.Window
	workers *flowcontrol.Window
	logger  Logger
	metrics MetricsCollector

	owner   Session
	handler requestHandler

	// bindSeq is the sequence number of the bind in flight, or zero.
	bindSeq      atomic.Uint32
	lastActivity atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

func newSession(conn net.Conn, role Role, cfg SessionConfig, logger Logger, metrics MetricsCollector) *session {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NopLogger{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      id,
		role:    role,
		conn:    conn,
		config:  cfg,
		reader:  NewFrameReader(conn, cfg.ReadTimeout),
		encoder: NewPDUEncoder(),
		decoder: NewPDUDecoder(),
		seq:     NewSequenceGenerator(),
		window:  flowcontrol.NewWindow(cfg.WindowSize),
		workers: flowcontrol.NewWindow(cfg.MaxConcurrentRequests),
		logger: logger.WithFields(map[string]interface{}{
			"session_id": id,
			"role":       role.String(),
		}),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.pending = NewPendingResponses(s.logger)
	s.reader.SetFrameTimeout(cfg.TransactionTimeout)
	s.touch()
	return s
}

// start launches the reader and the keep-alive. owner is the value handed to
// state observers.
func (s *session) start(owner Session, handler requestHandler) {
	s.owner = owner
	s.handler = handler

	s.loops.Add(1)
	go s.readLoop()
	if s.config.EnquireLinkInterval > 0 {
		s.loops.Add(1)
		go s.keepAlive()
	}

	s.logger.Info("Session started", "remote_addr", s.remoteAddrString())
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Role() Role {
	return s.role
}

func (s *session) State() SessionState {
	return s.state.get()
}

func (s *session) AddStateObserver(o StateObserver) func() {
	return s.state.addObserver(o)
}

func (s *session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

// PendingRequests returns the number of requests awaiting a response.
func (s *session) PendingRequests() int {
	return s.pending.Len()
}

func (s *session) remoteAddrString() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

func (s *session) changeState(next SessionState) bool {
	prev := s.state.get()
	if !s.state.set(next, s.owner) {
		return false
	}
	if prev != next {
		s.logger.Info("Session state changed", "from", prev.String(), "to", next.String())
	}
	return true
}

// transition moves from expected to next, or reports false when the session
// is no longer in expected.
func (s *session) transition(expected, next SessionState) bool {
	if !s.state.compareAndSet(expected, next, s.owner) {
		return false
	}
	s.logger.Info("Session state changed", "from", expected.String(), "to", next.String())
	return true
}

// Close shuts the session down, fails pending requests with
// ErrSessionClosed and waits for the reader to exit. It must not be called
// from a StateObserver.
func (s *session) Close() error {
	s.shutdown()
	s.loops.Wait()
	return nil
}

// shutdown closes the session without waiting, so the reader itself may
// call it.
func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		prev := s.State()
		close(s.done)
		s.cancel()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Error closing connection", "error", err)
		}
		n := s.pending.CancelAll(ErrSessionClosed)
		s.changeState(SessionStateClosed)
		s.reportPending()
		s.logger.Info("Session closed", "previous_state", prev.String(), "cancelled_requests", n)
	})
}

// EnquireLink sends enquire_link and waits for its response.
func (s *session) EnquireLink(ctx context.Context) error {
	if _, err := s.sendRequest(ctx, &EnquireLink{}); err != nil {
		return fmt.Errorf("enquire link failed: %w", err)
	}
	return nil
}

// Unbind sends unbind, waits for unbind_resp and moves to UNBOUND.
func (s *session) Unbind(ctx context.Context) error {
	if state := s.State(); !state.IsBound() {
		return fmt.Errorf("%w: cannot unbind in state %s", ErrNotBound, state)
	}
	if _, err := s.sendRequest(ctx, &Unbind{}); err != nil {
		return fmt.Errorf("failed to unbind: %w", err)
	}
	s.changeState(SessionStateUnbound)
	return nil
}

// UnbindAndClose unbinds when bound and then closes the session. The
// session is closed even when the unbind fails.
func (s *session) UnbindAndClose(ctx context.Context) error {
	var err error
	if s.State().IsBound() {
		err = s.Unbind(ctx)
		if err != nil {
			s.logger.Warn("Unbind failed before close", "error", err)
		}
	}
	_ = s.Close()
	return err
}

func (s *session) readLoop() {
	defer s.loops.Done()

	for {
		if s.isClosed() {
			return
		}
		header, err := s.reader.ReadHeader()
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			s.readFailed(header, err)
			return
		}
		body, err := s.reader.ReadBody(header)
		if err != nil {
			s.readFailed(header, err)
			return
		}
		s.touch()

		if err := s.process(*header, body); err != nil {
			if !s.isClosed() {
				s.logger.Error("Closing session", "error", err)
			}
			s.shutdown()
			return
		}
	}
}

func (s *session) readFailed(header *PDUHeader, err error) {
	var lenErr *InvalidCommandLengthError
	switch {
	case s.isClosed():
	case errors.As(err, &lenErr):
		var seq uint32
		if header != nil {
			seq = header.SequenceNum
		}
		s.logger.Error("Invalid command length, closing session", "command_length", lenErr.CommandLength)
		if nackErr := s.sendGenericNack(StatusInvCmdLen, seq); nackErr != nil {
			s.logger.Debug("Failed to send generic_nack", "error", nackErr)
		}
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		s.logger.Info("Connection closed by peer")
	default:
		s.logger.Error("Failed to read PDU", "error", err)
	}
	s.shutdown()
}

// process routes one inbound PDU through the dispatch table. A returned
// error closes the session.
func (s *session) process(header PDUHeader, body []byte) error {
	pdu, decodeErr := s.decoder.DecodeBody(header, body)
	state := s.State()
	decision := Dispatch(s.role, state, header.CommandID)

	s.logger.Debug("PDU received",
		"command_id", fmt.Sprintf("0x%08X", header.CommandID),
		"command", CommandName(header.CommandID),
		"sequence", header.SequenceNum,
		"status", header.CommandStatus,
		"state", state.String(),
		"action", decision.Action.String())
	s.countPDU(header.CommandID, "in", decision.Action.String())

	var unknown *UnknownCommandError
	if decodeErr != nil && !errors.As(decodeErr, &unknown) &&
		(decision.Action == ActionForward || decision.Action == ActionResolve) {
		return s.decodeFailed(header, decision, decodeErr)
	}

	switch decision.Action {
	case ActionForward:
		return s.forward(pdu)
	case ActionResolve:
		return s.resolve(pdu)
	case ActionReject:
		return s.respondStatus(ResponseID(header.CommandID), decision.Status, header.SequenceNum)
	case ActionGenericNack:
		return s.sendGenericNack(decision.Status, header.SequenceNum)
	case ActionFailOpenPending:
		s.failOpenPending(header)
		return nil
	case ActionIgnore:
		s.logger.Warn("Ignoring PDU", "command", CommandName(header.CommandID), "state", state.String())
		return nil
	default:
		return fmt.Errorf("%w: received %s in state %s", ErrInvalidState, CommandName(header.CommandID), state)
	}
}

func (s *session) decodeFailed(header PDUHeader, decision Decision, err error) error {
	status := StatusOf(err, StatusSysErr)
	s.logger.Warn("Malformed PDU",
		"command", CommandName(header.CommandID),
		"sequence", header.SequenceNum,
		"status", fmt.Sprintf("0x%08X", status),
		"error", err)

	if decision.Action == ActionResolve {
		s.pending.Fail(header.SequenceNum, &InvalidResponseError{
			Message: "failed to decode " + CommandName(header.CommandID),
			Err:     err,
		})
		return s.sendGenericNack(status, header.SequenceNum)
	}
	switch header.CommandID {
	case CommandOutbind, CommandAlertNotification:
		return nil
	}
	return s.respondStatus(ResponseID(header.CommandID), status, header.SequenceNum)
}

func (s *session) forward(pdu *PDU) error {
	switch pdu.Header.CommandID {
	case CommandEnquireLink:
		return s.respond(pdu.Header.SequenceNum, StatusOK, &EnquireLinkResp{})
	case CommandUnbind:
		s.logger.Info("Unbind requested by peer")
		err := s.respond(pdu.Header.SequenceNum, StatusOK, &UnbindResp{})
		s.changeState(SessionStateUnbound)
		s.shutdown()
		return err
	}

	if s.handler == nil {
		return s.respondStatus(ResponseID(pdu.Header.CommandID), StatusSysErr, pdu.Header.SequenceNum)
	}
	if err := s.workers.Acquire(s.ctx); err != nil {
		return nil
	}
	// Handlers are not tracked by loops so that a listener may Close its
	// own session.
	go func() {
		defer s.workers.Release()
		s.handler.handleRequest(s.ctx, pdu)
	}()
	return nil
}

func (s *session) resolve(pdu *PDU) error {
	h := pdu.Header
	if isBindResponse(h.CommandID) && h.CommandStatus == StatusOK {
		// Move to the bound state before the waiter wakes so PDUs that follow
		// the bind_resp are dispatched as bound.
		if p, ok := s.pending.Lookup(h.SequenceNum); ok && p.ExpectedCommandID == h.CommandID {
			bt, _ := BindTypeFromCommandID(h.CommandID)
			s.changeState(bt.BoundState())
		}
	}
	if s.pending.Resolve(h.SequenceNum, pdu) {
		return nil
	}
	switch h.CommandID {
	case CommandBindTransmitterResp, CommandBindReceiverResp, CommandBindTransceiverResp, CommandQuerySMResp:
		return s.sendGenericNack(StatusInvDftMsgID, h.SequenceNum)
	}
	return nil
}

func (s *session) failOpenPending(header PDUHeader) {
	seq := s.bindSeq.Load()
	if seq == 0 {
		s.logger.Warn("Unexpected PDU before bind", "command", CommandName(header.CommandID))
		return
	}
	s.pending.Fail(seq, &InvalidResponseError{
		Message: fmt.Sprintf("received %s while waiting for bind response", CommandName(header.CommandID)),
	})
}

func isBindResponse(commandID uint32) bool {
	switch commandID {
	case CommandBindTransmitterResp, CommandBindReceiverResp, CommandBindTransceiverResp:
		return true
	}
	return false
}

// sendRequest writes body under a fresh sequence number and waits for the
// matching response. On a negative response both the PDU and the error are
// returned.
func (s *session) sendRequest(ctx context.Context, body PDUBody) (*PDU, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if err := s.window.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.window.Release()

	commandID := body.CommandID()
	seq := s.seq.Next()
	p, err := s.pending.Register(seq, ResponseID(commandID))
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		s.pending.Fail(seq, ErrSessionClosed)
		return nil, ErrSessionClosed
	}
	if _, ok := body.(*Bind); ok {
		s.bindSeq.Store(seq)
		defer s.bindSeq.CompareAndSwap(seq, 0)
	}
	s.reportPending()

	if err := s.writePDU(&PDU{Header: PDUHeader{SequenceNum: seq}, Body: body}); err != nil {
		s.pending.Fail(seq, err)
		s.reportPending()
		return nil, err
	}

	start := time.Now()
	resp, err := p.Wait(ctx, s.config.TransactionTimeout)
	s.reportPending()

	labels := map[string]string{"command_id": CommandName(commandID)}
	var timeout *ResponseTimeoutError
	if errors.As(err, &timeout) {
		s.metrics.IncCounter(MetricResponseTimeouts, labels)
		s.logger.Warn("No response received",
			"command", CommandName(commandID),
			"sequence", seq,
			"timeout", s.config.TransactionTimeout.String())
	} else if resp != nil {
		s.metrics.RecordDuration(MetricResponseLatency, time.Since(start), labels)
	}
	return resp, err
}

func (s *session) reportPending() {
	s.metrics.SetGauge(MetricPendingRequests, float64(s.pending.Len()), map[string]string{"role": s.role.String()})
}

func (s *session) countPDU(commandID uint32, direction, result string) {
	s.metrics.IncCounter(MetricPDUProcessed, map[string]string{
		"command_id": CommandName(commandID),
		"direction":  direction,
		"result":     result,
	})
}

// respond answers the request with sequence seq.
func (s *session) respond(seq, status uint32, body PDUBody) error {
	return s.writePDU(&PDU{Header: PDUHeader{CommandStatus: status, SequenceNum: seq}, Body: body})
}

// answer sends a positive response built by a listener. A body that fails
// validation is replaced by ESME_RSYSERR.
func (s *session) answer(seq uint32, body PDUBody) error {
	err := s.respond(seq, StatusOK, body)
	var strErr *PDUStringError
	if errors.As(err, &strErr) {
		s.logger.Error("Invalid response from listener", "command", CommandName(body.CommandID()), "error", err)
		return s.respondStatus(body.CommandID(), StatusSysErr, seq)
	}
	return err
}

// respondStatus writes a header-only PDU, used for negative responses.
func (s *session) respondStatus(commandID, status, seq uint32) error {
	s.logger.Debug("PDU sent",
		"command_id", fmt.Sprintf("0x%08X", commandID),
		"status", fmt.Sprintf("0x%08X", status),
		"sequence", seq)
	s.countPDU(commandID, "out", "sent")
	return s.writeRaw(s.encoder.EncodeRaw(commandID, status, seq, nil))
}

func (s *session) sendGenericNack(status, seq uint32) error {
	return s.respondStatus(CommandGenericNack, status, seq)
}

func (s *session) writePDU(pdu *PDU) error {
	data, err := s.encoder.Encode(pdu)
	if err != nil {
		return err
	}
	s.logger.Debug("PDU sent",
		"command_id", fmt.Sprintf("0x%08X", pdu.Header.CommandID),
		"command", CommandName(pdu.Header.CommandID),
		"sequence", pdu.Header.SequenceNum,
		"length", pdu.Header.CommandLength)
	s.countPDU(pdu.Header.CommandID, "out", "sent")
	return s.writeRaw(data)
}

func (s *session) writeRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	s.touch()
	return nil
}

// keepAlive sends enquire_link after EnquireLinkInterval of silence while
// bound. A link that stops answering closes the session.
func (s *session) keepAlive() {
	defer s.loops.Done()

	interval := s.config.EnquireLinkInterval
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.State().IsBound() || s.idleFor() < interval {
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, s.config.TransactionTimeout)
			err := s.EnquireLink(ctx)
			cancel()

			var negative *NegativeResponseError
			if err == nil || errors.As(err, &negative) || s.isClosed() {
				continue
			}
			s.logger.Error("Enquire link failed, closing session", "error", err)
			s.shutdown()
			return
		}
	}
}

// listenerStatus maps an error returned by a listener to the status sent
// back to the peer.
func listenerStatus(err error, fallback uint32) uint32 {
	var pre *ProcessRequestError
	if errors.As(err, &pre) {
		return pre.Status
	}
	return fallback
}
