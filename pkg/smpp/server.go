package smpp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oarkflow/smpp-engine/internal/ratelimit"
)

// ServerMessageReceiverListener handles the requests a bound ESME sends.
// Returning a *ProcessRequestError answers with its status; any other error
// answers ESME_RSYSERR.
type ServerMessageReceiverListener interface {
	OnSubmitSM(ctx context.Context, session *ServerSession, sm *SubmitSM) (string, error)
	OnSubmitMulti(ctx context.Context, session *ServerSession, sm *SubmitMulti) (*SubmitMultiResp, error)
	OnQuerySM(ctx context.Context, session *ServerSession, q *QuerySM) (*QuerySMResp, error)
	OnCancelSM(ctx context.Context, session *ServerSession, c *CancelSM) error
	OnReplaceSM(ctx context.Context, session *ServerSession, r *ReplaceSM) error
	OnDataSM(ctx context.Context, session *ServerSession, sm *DataSM) (*DataSMResult, error)
}

// ServerSessionListener is told about every session the server creates.
type ServerSessionListener interface {
	OnSession(session *ServerSession)
}

// ServerSessionListenerFunc adapts a function to ServerSessionListener.
type ServerSessionListenerFunc func(session *ServerSession)

func (f ServerSessionListenerFunc) OnSession(session *ServerSession) {
	f(session)
}

// ServerDependencies holds all dependencies for the server
type ServerDependencies struct {
	Logger           Logger
	MetricsCollector MetricsCollector
	Listener         ServerMessageReceiverListener
	// BindListener, when set, receives every bind. Otherwise binds are
	// collected with (*ServerSession).WaitForBind.
	BindListener BindListener
	// SessionListener, when set, receives new sessions. Otherwise they are
	// collected with (*Server).Accept.
	SessionListener ServerSessionListener
}

// Server represents an SMPP server
type Server struct {
	config   *ServerConfig
	deps     ServerDependencies
	logger   Logger
	metrics  MetricsCollector
	limiter  *ratelimit.RateLimiter
	registry *sessionRegistry
	accepted chan *ServerSession

	// Server state
	mu       sync.RWMutex
	listener net.Listener
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new SMPP server
func NewServer(config *ServerConfig, deps ServerDependencies) *Server {
	if config == nil {
		config = &ServerConfig{}
	}
	if deps.Logger == nil {
		deps.Logger = NopLogger{}
	}
	if deps.MetricsCollector == nil {
		deps.MetricsCollector = nopMetrics{}
	}
	return &Server{
		config:   config,
		deps:     deps,
		logger:   deps.Logger,
		metrics:  deps.MetricsCollector,
		limiter:  ratelimit.NewRateLimiter(config.SubmitRate, config.SubmitBurst),
		registry: newSessionRegistry(deps.Logger, deps.MetricsCollector),
		accepted: make(chan *ServerSession, 16),
		done:     make(chan struct{}),
	}
}

// Start starts the SMPP server
func (srv *Server) Start(ctx context.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.running {
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(srv.config.Host, strconv.Itoa(srv.config.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if srv.config.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(srv.config.TLSCertFile, srv.config.TLSKeyFile)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			ServerName:   srv.config.Host,
		})
	}

	srv.listener = listener
	srv.running = true
	srv.logger.Info("SMPP server started", "address", listener.Addr().String(), "tls", srv.config.TLSEnabled)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		acceptLoop(listener, srv.done, srv.logger, srv.handleConnection)
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (srv *Server) Addr() net.Addr {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Stop closes the listener, unbinds and closes every session.
func (srv *Server) Stop(ctx context.Context) error {
	srv.mu.Lock()
	if !srv.running {
		srv.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	srv.running = false
	srv.listener.Close()
	close(srv.done)
	srv.mu.Unlock()

	var wg sync.WaitGroup
	for _, ss := range srv.registry.all() {
		wg.Add(1)
		go func(ss *ServerSession) {
			defer wg.Done()
			_ = ss.UnbindAndClose(ctx)
		}(ss)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.logger.Warn("Server shutdown timed out, forcing exit")
	}

	srv.logger.Info("SMPP server stopped")
	return nil
}

// IsRunning returns true if the server is running
func (srv *Server) IsRunning() bool {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return srv.running
}

// Accept returns the next new session when no SessionListener is set.
func (srv *Server) Accept(ctx context.Context) (*ServerSession, error) {
	select {
	case ss := <-srv.accepted:
		return ss, nil
	case <-srv.done:
		return nil, fmt.Errorf("server stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sessions returns the live sessions.
func (srv *Server) Sessions() []*ServerSession {
	return srv.registry.all()
}

// Session looks up a live session by id.
func (srv *Server) Session(id string) (*ServerSession, bool) {
	return srv.registry.get(id)
}

// SessionCount returns the number of live sessions.
func (srv *Server) SessionCount() int {
	return srv.registry.count()
}

func (srv *Server) handleConnection(conn net.Conn) {
	if limit := srv.config.MaxConnections; limit > 0 && srv.registry.count() >= limit {
		srv.logger.Warn("Max connections reached, rejecting new connection",
			"remote_addr", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	srv.ServeConn(conn)
}

// ServeConn runs a server session over conn. The session is handed to the
// SessionListener, or queued for Accept.
func (srv *Server) ServeConn(conn net.Conn) *ServerSession {
	ss := srv.newServerSession(conn)
	if srv.deps.SessionListener != nil {
		go srv.deps.SessionListener.OnSession(ss)
		return ss
	}
	select {
	case srv.accepted <- ss:
	default:
		srv.logger.Warn("Accept queue full, session not queued", "session_id", ss.ID())
	}
	return ss
}

func (srv *Server) newServerSession(conn net.Conn) *ServerSession {
	ss := &ServerSession{
		session:      newSession(conn, RoleServer, srv.config.SessionConfig, srv.logger, srv.metrics),
		binds:        newRequestReceiver[*BindRequest]("bind"),
		bindListener: srv.deps.BindListener,
		listener:     srv.deps.Listener,
		limiter:      srv.limiter,
	}
	srv.registry.add(ss)
	ss.start(ss, ss)

	timeout := srv.config.BindTimeout
	if timeout <= 0 {
		timeout = DefaultBindTimeout
	}
	ss.watchBindTimeout(timeout)
	return ss
}

// Outbind dials an ESME, sends outbind and returns the session, which waits
// in OPEN for the ESME to bind.
func (srv *Server) Outbind(ctx context.Context, addr, systemID, password string) (*ServerSession, error) {
	outbind := &Outbind{SystemID: systemID, Password: password}
	if _, err := outbind.Marshal(); err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	ss := srv.newServerSession(conn)
	if err := ss.SendOutbind(systemID, password); err != nil {
		_ = ss.Close()
		return nil, err
	}
	srv.logger.Info("Outbind sent", "address", addr, "system_id", systemID, "session_id", ss.ID())
	return ss, nil
}

// DialOutbind is the SMSC side of the outbound flow for callers without a
// Server.
func DialOutbind(ctx context.Context, addr, systemID, password string, config *ServerConfig, deps ServerDependencies) (*ServerSession, error) {
	return NewServer(config, deps).Outbind(ctx, addr, systemID, password)
}

// acceptLoop accepts until done is closed, handing each connection to handle.
func acceptLoop(listener net.Listener, done <-chan struct{}, logger Logger, handle func(net.Conn)) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("Failed to accept connection", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		logger.Debug("New connection accepted", "remote_addr", conn.RemoteAddr().String())
		handle(conn)
	}
}

// ServerSession is the SMSC side of one connection.
type ServerSession struct {
	*session

	binds        *requestReceiver[*BindRequest]
	bindListener BindListener
	listener     ServerMessageReceiverListener
	limiter      *ratelimit.RateLimiter

	// acceptMu serializes bind acceptance; only one bind_resp(OK) is sent.
	acceptMu sync.Mutex
	mu       sync.RWMutex
	systemID string
	bindType BindType
}

// WaitForBind blocks until the ESME sends a bind. It may be called once, and
// only when no BindListener is configured.
func (ss *ServerSession) WaitForBind(ctx context.Context, timeout time.Duration) (*BindRequest, error) {
	return ss.binds.wait(ctx, timeout)
}

// SetMessageReceiverListener replaces the listener for inbound requests.
func (ss *ServerSession) SetMessageReceiverListener(l ServerMessageReceiverListener) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.listener = l
}

func (ss *ServerSession) messageListener() ServerMessageReceiverListener {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.listener
}

// SystemID returns the system_id of the bound ESME.
func (ss *ServerSession) SystemID() string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.systemID
}

// BindType returns the accepted bind type, or zero before bind.
func (ss *ServerSession) BindType() BindType {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.bindType
}

func (ss *ServerSession) watchBindTimeout(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		if ss.State() == SessionStateOpen {
			ss.logger.Warn("No bind accepted in time, closing session", "bind_timeout", timeout.String())
			ss.shutdown()
		}
	})
	go func() {
		<-ss.done
		timer.Stop()
	}()
}

func (ss *ServerSession) acceptBind(req *BindRequest, systemID string, params OptionalParameters) error {
	ss.acceptMu.Lock()
	defer ss.acceptMu.Unlock()

	if state := ss.State(); state != SessionStateOpen {
		return fmt.Errorf("%w: cannot accept bind in state %s", ErrIllegalState, state)
	}
	bt := req.BindType()

	ss.mu.Lock()
	ss.systemID = req.SystemID
	ss.bindType = bt
	ss.mu.Unlock()

	opts := append(OptionalParameters(nil), params...)
	if req.InterfaceVersion >= InterfaceVersion34 && !opts.Has(TagSCInterfaceVersion) {
		opts.Add(NewByteParameter(TagSCInterfaceVersion, InterfaceVersion34))
	}

	if !ss.transition(SessionStateOpen, bt.BoundState()) {
		return fmt.Errorf("%w: cannot accept bind in state %s", ErrIllegalState, ss.State())
	}
	err := ss.respond(req.SequenceNum, StatusOK, &BindResp{
		Type:               bt,
		SystemID:           systemID,
		OptionalParameters: opts,
	})
	ss.metrics.IncCounter(MetricBind, map[string]string{"bind_type": bt.String(), "result": "ok"})
	if err != nil {
		ss.logger.Error("Failed to send bind response", "error", err)
		ss.shutdown()
		return err
	}
	ss.logger.Info("Bind accepted", "system_id", req.SystemID, "bind_type", bt.String())
	return nil
}

func (ss *ServerSession) rejectBind(req *BindRequest, status uint32) error {
	ss.metrics.IncCounter(MetricBind, map[string]string{"bind_type": req.BindType().String(), "result": "rejected"})
	ss.logger.Info("Bind rejected",
		"system_id", req.SystemID,
		"bind_type", req.BindType().String(),
		"status", fmt.Sprintf("0x%08X", status))
	return ss.respondStatus(req.BindType().ResponseCommandID(), status, req.SequenceNum)
}

func (ss *ServerSession) onBind(bind *Bind, seq uint32) {
	req := newBindRequest(bind, seq, ss)
	ss.logger.Info("Bind request received",
		"system_id", bind.SystemID,
		"bind_type", bind.Type.String(),
		"interface_version", fmt.Sprintf("0x%02X", bind.InterfaceVersion))

	if ss.bindListener != nil {
		ss.bindListener.OnBind(ss, req)
		return
	}
	if err := ss.binds.notify(req); err != nil {
		ss.logger.Warn("Bind already pending, rejecting", "system_id", bind.SystemID)
		if err := req.Reject(StatusSysErr); err != nil {
			ss.logger.Debug("Failed to reject bind", "error", err)
		}
	}
}

// allowSubmit applies the per system_id submit throttle.
func (ss *ServerSession) allowSubmit() bool {
	if ss.limiter == nil || ss.limiter.Unlimited() {
		return true
	}
	return ss.limiter.Allow(ss.SystemID())
}

func (ss *ServerSession) handleRequest(ctx context.Context, pdu *PDU) {
	seq := pdu.Header.SequenceNum
	respID := ResponseID(pdu.Header.CommandID)

	if bind, ok := pdu.Body.(*Bind); ok {
		ss.onBind(bind, seq)
		return
	}

	switch pdu.Body.(type) {
	case *SubmitSM, *SubmitMulti, *DataSM:
		if !ss.allowSubmit() {
			ss.logger.Warn("Throttling request", "command", CommandName(pdu.Header.CommandID), "system_id", ss.SystemID())
			ss.reply(ss.respondStatus(respID, StatusThrottled, seq))
			return
		}
	}

	listener := ss.messageListener()
	if listener == nil {
		ss.reply(ss.respondStatus(respID, StatusSysErr, seq))
		return
	}

	var (
		resp PDUBody
		err  error
	)
	switch body := pdu.Body.(type) {
	case *SubmitSM:
		var id string
		if id, err = listener.OnSubmitSM(ctx, ss, body); err == nil {
			resp = &SubmitSMResp{MessageID: id}
		}
	case *SubmitMulti:
		var r *SubmitMultiResp
		if r, err = listener.OnSubmitMulti(ctx, ss, body); err == nil {
			if r == nil {
				r = &SubmitMultiResp{}
			}
			resp = r
		}
	case *QuerySM:
		var r *QuerySMResp
		if r, err = listener.OnQuerySM(ctx, ss, body); err == nil {
			if r == nil {
				r = &QuerySMResp{MessageID: body.MessageID}
			}
			resp = r
		}
	case *CancelSM:
		if err = listener.OnCancelSM(ctx, ss, body); err == nil {
			resp = &CancelSMResp{}
		}
	case *ReplaceSM:
		if err = listener.OnReplaceSM(ctx, ss, body); err == nil {
			resp = &ReplaceSMResp{}
		}
	case *DataSM:
		var r *DataSMResult
		if r, err = listener.OnDataSM(ctx, ss, body); err == nil {
			dr := &DataSMResp{}
			if r != nil {
				dr.MessageID = r.MessageID
				dr.OptionalParameters = r.OptionalParameters
			}
			resp = dr
		}
	default:
		ss.reply(ss.respondStatus(respID, StatusInvCmdID, seq))
		return
	}

	if err != nil {
		status := listenerStatus(err, StatusSysErr)
		ss.logger.Warn("Request rejected by listener",
			"command", CommandName(pdu.Header.CommandID),
			"sequence", seq,
			"status", fmt.Sprintf("0x%08X", status),
			"error", err)
		ss.reply(ss.respondStatus(respID, status, seq))
		return
	}
	ss.reply(ss.answer(seq, resp))
}

func (ss *ServerSession) reply(err error) {
	if err != nil && !ss.isClosed() {
		ss.logger.Error("Failed to send response", "error", err)
	}
}

// DeliverShortMessage sends deliver_sm to a receiver or transceiver.
func (ss *ServerSession) DeliverShortMessage(ctx context.Context, sm *DeliverSM) error {
	if state := ss.State(); !state.IsReceivable() {
		return fmt.Errorf("%w: cannot deliver in state %s", ErrNotBound, state)
	}
	if _, err := ss.sendRequest(ctx, sm); err != nil {
		return fmt.Errorf("deliver_sm failed: %w", err)
	}
	return nil
}

// DataShortMessage sends data_sm to a bound ESME.
func (ss *ServerSession) DataShortMessage(ctx context.Context, sm *DataSM) (*DataSMResp, error) {
	if state := ss.State(); !state.IsBound() {
		return nil, fmt.Errorf("%w: cannot send data_sm in state %s", ErrNotBound, state)
	}
	resp, err := ss.sendRequest(ctx, sm)
	if err != nil {
		return nil, fmt.Errorf("data_sm failed: %w", err)
	}
	r, _ := resp.Body.(*DataSMResp)
	return r, nil
}

// AlertNotification sends alert_notification. It has no response.
func (ss *ServerSession) AlertNotification(ctx context.Context, an *AlertNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state := ss.State(); !state.IsReceivable() {
		return fmt.Errorf("%w: cannot send alert_notification in state %s", ErrNotBound, state)
	}
	return ss.writePDU(&PDU{Header: PDUHeader{SequenceNum: ss.seq.Next()}, Body: an})
}

// SendOutbind writes outbind on a session still OPEN. It has no response;
// the ESME answers by binding.
func (ss *ServerSession) SendOutbind(systemID, password string) error {
	if state := ss.State(); state != SessionStateOpen {
		return fmt.Errorf("%w: cannot send outbind in state %s", ErrIllegalState, state)
	}
	return ss.writePDU(&PDU{
		Header: PDUHeader{SequenceNum: ss.seq.Next()},
		Body:   &Outbind{SystemID: systemID, Password: password},
	})
}
