package smpp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oarkflow/smpp-engine/internal/errorrecovery"
)

// MessageReceiverListener receives the requests an SMSC sends to a bound
// ESME. Returning a *ProcessRequestError answers with its status.
type MessageReceiverListener interface {
	OnDeliverSM(ctx context.Context, sm *DeliverSM) error
	OnDataSM(ctx context.Context, sm *DataSM) (*DataSMResult, error)
	OnAlertNotification(ctx context.Context, an *AlertNotification)
}

// DataSMResult is what a listener answers to data_sm.
type DataSMResult struct {
	MessageID          string
	OptionalParameters OptionalParameters
}

// OutbindRequest is the outbind received by an outbound client.
type OutbindRequest struct {
	SystemID string
	Password string
}

// ClientDependencies holds all dependencies for the client
type ClientDependencies struct {
	Logger           Logger
	MetricsCollector MetricsCollector
	Listener         MessageReceiverListener
}

// Client is an ESME session. It is created unconnected; Connect, Start or
// an OutboundServer attaches the connection.
type Client struct {
	config  *ClientConfig
	logger  Logger
	metrics MetricsCollector

	mu        sync.RWMutex
	sess      *session
	listener  MessageReceiverListener
	outbind   *requestReceiver[*OutbindRequest]

	// observers registered before the session exists, and the unregister
	// functions of those already attached to it.
	observers []observerEntry
	detach    map[int]func()
	nextObs   int
}

// NewClient creates a new SMPP client
func NewClient(config *ClientConfig, deps ClientDependencies) *Client {
	if config == nil {
		config = &ClientConfig{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	metrics := deps.MetricsCollector
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Client{
		config:   config,
		logger:   logger,
		metrics:  metrics,
		listener: deps.Listener,
		outbind:  newRequestReceiver[*OutbindRequest]("outbind"),
		detach:   make(map[int]func()),
	}
}

// SetMessageReceiverListener replaces the listener for inbound requests.
func (c *Client) SetMessageReceiverListener(l MessageReceiverListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Client) messageListener() MessageReceiverListener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}

// Connect dials the configured SMSC, retrying with exponential backoff up to
// MaxReconnectAttempts times.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port)))
}

func (c *Client) connect(ctx context.Context, addr string) error {
	c.logger.Info("Connecting to SMPP server", "address", addr)

	retry := errorrecovery.DefaultRetryConfig()
	retry.MaxRetries = c.config.MaxReconnectAttempts
	if c.config.ReconnectInterval > 0 {
		retry.InitialDelay = c.config.ReconnectInterval
	}

	var conn net.Conn
	result := errorrecovery.Retry(ctx, retry, func() error {
		var err error
		conn, err = c.dial(ctx, addr)
		return err
	}, func(err error, delay time.Duration) {
		c.logger.Warn("Connect attempt failed", "address", addr, "error", err, "retry_in", delay.String())
	})
	if result.Error != nil {
		return fmt.Errorf("failed to connect to %s after %d attempts: %w", addr, result.Attempts, result.Error)
	}

	if err := c.Start(conn); err != nil {
		_ = conn.Close()
		return err
	}
	c.logger.Info("Connected to SMPP server", "address", addr, "tls", c.config.TLSEnabled, "session_id", c.ID())
	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	if !c.config.TLSEnabled {
		return netDialer.DialContext(ctx, "tcp", addr)
	}
	dialer := &tls.Dialer{
		NetDialer: netDialer,
		Config: &tls.Config{
			InsecureSkipVerify: c.config.TLSSkipVerify,
			ServerName:         c.config.Host,
		},
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// Start runs the session over an established connection.
func (c *Client) Start(conn net.Conn) error {
	return c.startSession(conn, RoleClient)
}

func (c *Client) startSession(conn net.Conn, role Role) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: client is already connected", ErrIllegalState)
	}
	s := newSession(conn, role, c.config.SessionConfig, c.logger, c.metrics)
	for _, e := range c.observers {
		c.detach[e.id] = s.AddStateObserver(e.observer)
	}
	c.observers = nil
	c.sess = s
	c.mu.Unlock()

	s.start(c, c)
	return nil
}

func (c *Client) current() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, fmt.Errorf("%w: client is not connected", ErrIllegalState)
	}
	return c.sess, nil
}

func (c *Client) bound() (*session, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	if state := s.State(); !state.IsBound() {
		return nil, fmt.Errorf("%w: state is %s", ErrNotBound, state)
	}
	return s, nil
}

// ConnectAndBind connects to addr, or to the configured host and port when
// addr is empty, and binds. When the bind fails the connection is closed.
func (c *Client) ConnectAndBind(ctx context.Context, addr string, param BindParameter) (string, error) {
	if addr == "" {
		addr = net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	}
	if err := c.connect(ctx, addr); err != nil {
		return "", err
	}
	systemID, err := c.Bind(ctx, param)
	if err != nil {
		_ = c.Close()
		return "", err
	}
	return systemID, nil
}

// Bind sends the bind request and returns the system_id of the SMSC. On
// success the session is BOUND_TX, BOUND_RX or BOUND_TRX.
func (c *Client) Bind(ctx context.Context, param BindParameter) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	if state := s.State(); state != SessionStateOpen {
		return "", fmt.Errorf("%w: cannot bind in state %s", ErrIllegalState, state)
	}

	labels := map[string]string{"bind_type": param.BindType.String()}
	resp, err := s.sendRequest(ctx, param.toPDU())
	if err != nil {
		labels["result"] = "failed"
		c.metrics.IncCounter(MetricBind, labels)
		c.logger.Error("Bind failed", "system_id", param.SystemID, "bind_type", param.BindType.String(), "error", err)
		return "", fmt.Errorf("bind failed: %w", err)
	}
	labels["result"] = "ok"
	c.metrics.IncCounter(MetricBind, labels)

	var systemID string
	if br, ok := resp.Body.(*BindResp); ok {
		systemID = br.SystemID
		if v, ok := br.InterfaceVersion(); ok {
			c.logger.Debug("SMSC interface version", "version", fmt.Sprintf("0x%02X", v))
		}
	}
	c.logger.Info("Bound to SMPP server",
		"system_id", param.SystemID,
		"smsc_system_id", systemID,
		"bind_type", param.BindType.String())
	return systemID, nil
}

// WaitForOutbind blocks until the SMSC sends outbind on an outbound client.
// It may be called once.
func (c *Client) WaitForOutbind(ctx context.Context, timeout time.Duration) (*OutbindRequest, error) {
	return c.outbind.wait(ctx, timeout)
}

// SubmitShortMessage sends submit_sm and returns the message_id.
func (c *Client) SubmitShortMessage(ctx context.Context, sm *SubmitSM) (string, error) {
	s, err := c.bound()
	if err != nil {
		return "", err
	}
	resp, err := s.sendRequest(ctx, sm)
	if err != nil {
		return "", fmt.Errorf("submit_sm failed: %w", err)
	}
	if r, ok := resp.Body.(*SubmitSMResp); ok {
		return r.MessageID, nil
	}
	return "", nil
}

// SubmitMultiple sends submit_multi.
func (c *Client) SubmitMultiple(ctx context.Context, sm *SubmitMulti) (*SubmitMultiResp, error) {
	s, err := c.bound()
	if err != nil {
		return nil, err
	}
	resp, err := s.sendRequest(ctx, sm)
	if err != nil {
		return nil, fmt.Errorf("submit_multi failed: %w", err)
	}
	r, _ := resp.Body.(*SubmitMultiResp)
	return r, nil
}

// QueryShortMessage sends query_sm.
func (c *Client) QueryShortMessage(ctx context.Context, q *QuerySM) (*QuerySMResp, error) {
	s, err := c.bound()
	if err != nil {
		return nil, err
	}
	resp, err := s.sendRequest(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query_sm failed: %w", err)
	}
	r, _ := resp.Body.(*QuerySMResp)
	return r, nil
}

// CancelShortMessage sends cancel_sm.
func (c *Client) CancelShortMessage(ctx context.Context, cs *CancelSM) error {
	s, err := c.bound()
	if err != nil {
		return err
	}
	if _, err := s.sendRequest(ctx, cs); err != nil {
		return fmt.Errorf("cancel_sm failed: %w", err)
	}
	return nil
}

// ReplaceShortMessage sends replace_sm.
func (c *Client) ReplaceShortMessage(ctx context.Context, rs *ReplaceSM) error {
	s, err := c.bound()
	if err != nil {
		return err
	}
	if _, err := s.sendRequest(ctx, rs); err != nil {
		return fmt.Errorf("replace_sm failed: %w", err)
	}
	return nil
}

// DataShortMessage sends data_sm.
func (c *Client) DataShortMessage(ctx context.Context, sm *DataSM) (*DataSMResp, error) {
	s, err := c.bound()
	if err != nil {
		return nil, err
	}
	resp, err := s.sendRequest(ctx, sm)
	if err != nil {
		return nil, fmt.Errorf("data_sm failed: %w", err)
	}
	r, _ := resp.Body.(*DataSMResp)
	return r, nil
}

func (c *Client) EnquireLink(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.EnquireLink(ctx)
}

func (c *Client) Unbind(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.Unbind(ctx)
}

// UnbindAndClose unbinds when bound, then closes the connection.
func (c *Client) UnbindAndClose(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.UnbindAndClose(ctx)
}

// Close closes the connection without unbinding. Closing an unconnected
// client is a no-op.
func (c *Client) Close() error {
	s, err := c.current()
	if err != nil {
		return nil
	}
	return s.Close()
}

func (c *Client) ID() string {
	if s, err := c.current(); err == nil {
		return s.ID()
	}
	return ""
}

func (c *Client) Role() Role {
	if s, err := c.current(); err == nil {
		return s.Role()
	}
	return RoleClient
}

// State returns the session state. A client that never connected is OPEN.
func (c *Client) State() SessionState {
	if s, err := c.current(); err == nil {
		return s.State()
	}
	return SessionStateOpen
}

// AddStateObserver registers o. Observers added before the connection exists
// are attached when it starts.
func (c *Client) AddStateObserver(o StateObserver) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess.AddStateObserver(o)
	}
	c.nextObs++
	id := c.nextObs
	c.observers = append(c.observers, observerEntry{id: id, observer: o})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if unregister, ok := c.detach[id]; ok {
			delete(c.detach, id)
			unregister()
			return
		}
		for i, e := range c.observers {
			if e.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) RemoteAddr() net.Addr {
	if s, err := c.current(); err == nil {
		return s.RemoteAddr()
	}
	return nil
}

// Done is closed when the session closes. It is nil before connecting.
func (c *Client) Done() <-chan struct{} {
	if s, err := c.current(); err == nil {
		return s.Done()
	}
	return nil
}

// handleRequest answers requests forwarded by the reader.
func (c *Client) handleRequest(ctx context.Context, pdu *PDU) {
	s, err := c.current()
	if err != nil {
		return
	}
	seq := pdu.Header.SequenceNum
	listener := c.messageListener()

	switch body := pdu.Body.(type) {
	case *DeliverSM:
		if listener != nil {
			if err := listener.OnDeliverSM(ctx, body); err != nil {
				c.logger.Warn("Delivery rejected by listener", "sequence", seq, "error", err)
				c.reply(s, s.respondStatus(CommandDeliverSMResp, listenerStatus(err, StatusXTAppn), seq))
				return
			}
		} else {
			c.logger.Debug("No listener for deliver_sm, acknowledging", "sequence", seq)
		}
		c.reply(s, s.respond(seq, StatusOK, &DeliverSMResp{}))

	case *DataSM:
		if listener == nil {
			c.reply(s, s.respondStatus(CommandDataSMResp, StatusXTAppn, seq))
			return
		}
		result, err := listener.OnDataSM(ctx, body)
		if err != nil {
			c.logger.Warn("data_sm rejected by listener", "sequence", seq, "error", err)
			c.reply(s, s.respondStatus(CommandDataSMResp, listenerStatus(err, StatusXTAppn), seq))
			return
		}
		resp := &DataSMResp{}
		if result != nil {
			resp.MessageID = result.MessageID
			resp.OptionalParameters = result.OptionalParameters
		}
		c.reply(s, s.answer(seq, resp))

	case *AlertNotification:
		if listener != nil {
			listener.OnAlertNotification(ctx, body)
		}

	case *Outbind:
		req := &OutbindRequest{SystemID: body.SystemID, Password: body.Password}
		if err := c.outbind.notify(req); err != nil {
			c.logger.Warn("Ignoring repeated outbind", "system_id", body.SystemID)
			return
		}
		c.logger.Info("Outbind received", "system_id", body.SystemID)

	default:
		c.reply(s, s.respondStatus(ResponseID(pdu.Header.CommandID), StatusInvCmdID, seq))
	}
}

func (c *Client) reply(s *session, err error) {
	if err != nil && !s.isClosed() {
		c.logger.Error("Failed to send response", "error", err)
	}
}
