package smpp

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// OutboundServer is the ESME side of the outbound flow: it listens for an
// SMSC that dials in, and turns every connection into a Client in
// RoleOutboundClient. The application waits for the outbind on that client
// and then binds over the same connection.
type OutboundServer struct {
	config   *ClientConfig
	deps     ClientDependencies
	logger   Logger
	accepted chan *Client

	mu       sync.RWMutex
	listener net.Listener
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewOutboundServer creates an unstarted OutboundServer. Clients it accepts
// share config and deps.
func NewOutboundServer(config *ClientConfig, deps ClientDependencies) *OutboundServer {
	if config == nil {
		config = &ClientConfig{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	return &OutboundServer{
		config:   config,
		deps:     deps,
		logger:   logger,
		accepted: make(chan *Client, 16),
		done:     make(chan struct{}),
	}
}

// Listen starts accepting connections on addr.
func (o *OutboundServer) Listen(addr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.listener != nil {
		return fmt.Errorf("outbound server is already listening")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	o.listener = listener
	o.logger.Info("Outbound server listening", "address", listener.Addr().String())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		acceptLoop(listener, o.done, o.logger, func(conn net.Conn) {
			o.ServeConn(conn)
		})
	}()
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (o *OutboundServer) Addr() net.Addr {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.listener == nil {
		return nil
	}
	return o.listener.Addr()
}

// ServeConn wraps conn in an outbound client and queues it for Accept.
func (o *OutboundServer) ServeConn(conn net.Conn) *Client {
	c := NewClient(o.config, o.deps)
	if err := c.startSession(conn, RoleOutboundClient); err != nil {
		o.logger.Error("Failed to start outbound session", "error", err)
		conn.Close()
		return nil
	}
	select {
	case o.accepted <- c:
	default:
		o.logger.Warn("Accept queue full, closing outbound session", "session_id", c.ID())
		_ = c.Close()
	}
	return c
}

// Accept returns the next client created from an inbound SMSC connection.
func (o *OutboundServer) Accept(ctx context.Context) (*Client, error) {
	select {
	case c := <-o.accepted:
		return c, nil
	case <-o.done:
		return nil, fmt.Errorf("outbound server closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops listening. Clients already accepted stay open.
func (o *OutboundServer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.done)
	var err error
	if o.listener != nil {
		err = o.listener.Close()
	}
	o.mu.Unlock()

	o.wg.Wait()
	return err
}
