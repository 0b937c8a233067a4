package smpp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var acceptSecret = BindListenerFunc(func(_ *ServerSession, req *BindRequest) {
	if req.Password != "secret" {
		_ = req.Reject(StatusInvPaswd)
		return
	}
	_ = req.Accept("sys")
})

type smscStub struct {
	submitted atomic.Int32
}

func (s *smscStub) OnSubmitSM(_ context.Context, _ *ServerSession, sm *SubmitSM) (string, error) {
	if sm.DestAddr.Addr == "" {
		return "", NewProcessRequestError(StatusInvDstAdr, "no destination")
	}
	return strconv.Itoa(int(s.submitted.Add(1))), nil
}

func (s *smscStub) OnSubmitMulti(context.Context, *ServerSession, *SubmitMulti) (*SubmitMultiResp, error) {
	return &SubmitMultiResp{MessageID: "multi"}, nil
}

func (s *smscStub) OnQuerySM(_ context.Context, _ *ServerSession, q *QuerySM) (*QuerySMResp, error) {
	return &QuerySMResp{MessageID: q.MessageID, MessageState: MessageStateEnroute}, nil
}

func (s *smscStub) OnCancelSM(context.Context, *ServerSession, *CancelSM) error {
	return nil
}

func (s *smscStub) OnReplaceSM(context.Context, *ServerSession, *ReplaceSM) error {
	return errors.New("replace not supported")
}

func (s *smscStub) OnDataSM(context.Context, *ServerSession, *DataSM) (*DataSMResult, error) {
	return &DataSMResult{MessageID: "data"}, nil
}

type esmeStub struct {
	deliveries chan *DeliverSM
	alerts     chan *AlertNotification
}

func newESMEStub() *esmeStub {
	return &esmeStub{
		deliveries: make(chan *DeliverSM, 8),
		alerts:     make(chan *AlertNotification, 8),
	}
}

func (e *esmeStub) OnDeliverSM(_ context.Context, sm *DeliverSM) error {
	e.deliveries <- sm
	return nil
}

func (e *esmeStub) OnDataSM(context.Context, *DataSM) (*DataSMResult, error) {
	return &DataSMResult{MessageID: "esme-data"}, nil
}

func (e *esmeStub) OnAlertNotification(_ context.Context, an *AlertNotification) {
	e.alerts <- an
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connectPair runs a server session and a client over an in-memory pipe.
func connectPair(t *testing.T, srvCfg *ServerConfig, clientCfg *ClientConfig, esme *esmeStub) (*Server, *ServerSession, *Client) {
	t.Helper()
	srv := NewServer(srvCfg, ServerDependencies{Listener: &smscStub{}, BindListener: acceptSecret})
	serverConn, clientConn := net.Pipe()
	ss := srv.ServeConn(serverConn)

	deps := ClientDependencies{}
	if esme != nil {
		deps.Listener = esme
	}
	client := NewClient(clientCfg, deps)
	require.NoError(t, client.Start(clientConn))
	t.Cleanup(func() {
		client.Close()
		ss.Close()
	})
	return srv, ss, client
}

func TestClientServerSession(t *testing.T) {
	ctx := testContext(t)
	srv, ss, client := connectPair(t, nil, nil, nil)

	var mu sync.Mutex
	var transitions [][2]SessionState
	client.AddStateObserver(StateObserverFunc(func(newState, oldState SessionState, _ Session) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]SessionState{oldState, newState})
	}))

	_, err := client.SubmitShortMessage(ctx, &SubmitSM{})
	assert.ErrorIs(t, err, ErrNotBound)

	systemID, err := client.Bind(ctx, BindParameter{BindType: BindTransmitter, SystemID: "esme", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "sys", systemID)
	assert.Equal(t, SessionStateBoundTX, client.State())
	assert.Equal(t, SessionStateBoundTX, ss.State())
	assert.Equal(t, "esme", ss.SystemID())
	assert.Equal(t, BindTransmitter, ss.BindType())
	assert.Equal(t, 1, srv.SessionCount())

	_, err = client.Bind(ctx, BindParameter{BindType: BindTransmitter, SystemID: "esme", Password: "secret"})
	assert.ErrorIs(t, err, ErrIllegalState)

	dest := Address{TON: 1, NPI: 1, Addr: "2000"}
	id, err := client.SubmitShortMessage(ctx, &SubmitSM{ShortMessageFields{DestAddr: dest, ShortMessage: []byte("one")}})
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = client.SubmitShortMessage(ctx, &SubmitSM{ShortMessageFields{ShortMessage: []byte("nowhere")}})
	assert.Equal(t, StatusInvDstAdr, StatusOf(err, StatusOK))

	err = client.ReplaceShortMessage(ctx, &ReplaceSM{MessageID: "1"})
	assert.Equal(t, StatusSysErr, StatusOf(err, StatusOK))

	q, err := client.QueryShortMessage(ctx, &QuerySM{MessageID: "1"})
	require.NoError(t, err)
	assert.Equal(t, uint8(MessageStateEnroute), q.MessageState)

	require.NoError(t, client.EnquireLink(ctx))

	err = ss.DeliverShortMessage(ctx, &DeliverSM{})
	assert.ErrorIs(t, err, ErrNotBound)

	require.NoError(t, client.UnbindAndClose(ctx))
	select {
	case <-ss.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server session did not close after unbind")
	}
	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transitions)
	assert.Equal(t, [2]SessionState{SessionStateOpen, SessionStateBoundTX}, transitions[0])
	assert.Equal(t, SessionStateClosed, transitions[len(transitions)-1][1])
}

func TestBindRejected(t *testing.T) {
	ctx := testContext(t)
	_, ss, client := connectPair(t, nil, nil, nil)

	_, err := client.Bind(ctx, BindParameter{BindType: BindTransceiver, SystemID: "esme", Password: "wrong"})
	var neg *NegativeResponseError
	require.ErrorAs(t, err, &neg)
	assert.Equal(t, StatusInvPaswd, neg.Status)
	assert.Equal(t, SessionStateOpen, client.State())
	assert.Equal(t, SessionStateOpen, ss.State())
}

func TestWaitForBind(t *testing.T) {
	ctx := testContext(t)
	srv := NewServer(nil, ServerDependencies{})
	serverConn, clientConn := net.Pipe()
	ss := srv.ServeConn(serverConn)
	client := NewClient(nil, ClientDependencies{})
	require.NoError(t, client.Start(clientConn))
	t.Cleanup(func() {
		client.Close()
		ss.Close()
	})

	accepted, err := srv.Accept(ctx)
	require.NoError(t, err)
	assert.Same(t, ss, accepted)

	result := make(chan error, 1)
	go func() {
		_, err := client.Bind(ctx, BindParameter{BindType: BindTransceiver, SystemID: "esme"})
		result <- err
	}()

	req, err := ss.WaitForBind(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, BindTransceiver, req.BindType())
	assert.Equal(t, "esme", req.SystemID)
	require.NoError(t, req.Accept("smsc"))
	assert.ErrorIs(t, req.Reject(StatusBindFail), ErrBindResponded)

	require.NoError(t, <-result)
	assert.Equal(t, SessionStateBoundTRX, client.State())

	found, ok := srv.Session(ss.ID())
	require.True(t, ok)
	assert.Same(t, ss, found)

	sm := &SubmitSM{ShortMessageFields{DestAddr: Address{Addr: "2000"}}}
	_, err = client.SubmitShortMessage(ctx, sm)
	assert.Equal(t, StatusSysErr, StatusOf(err, StatusOK))

	ss.SetMessageReceiverListener(&smscStub{})
	id, err := client.SubmitShortMessage(ctx, sm)
	require.NoError(t, err)
	assert.Equal(t, "1", id)
}

func TestSubmitThrottled(t *testing.T) {
	ctx := testContext(t)
	_, _, client := connectPair(t, &ServerConfig{SubmitRate: 0.001, SubmitBurst: 1}, nil, nil)

	_, err := client.Bind(ctx, BindParameter{BindType: BindTransceiver, SystemID: "esme", Password: "secret"})
	require.NoError(t, err)

	sm := &SubmitSM{ShortMessageFields{DestAddr: Address{Addr: "2000"}, ShortMessage: []byte("x")}}
	_, err = client.SubmitShortMessage(ctx, sm)
	require.NoError(t, err)
	_, err = client.SubmitShortMessage(ctx, sm)
	assert.Equal(t, StatusThrottled, StatusOf(err, StatusOK))
	assert.False(t, IsRetryable(err))

	// Queries are not throttled.
	_, err = client.QueryShortMessage(ctx, &QuerySM{MessageID: "1"})
	assert.NoError(t, err)
}

func TestServerDataAndDelivery(t *testing.T) {
	ctx := testContext(t)
	esme := newESMEStub()
	_, ss, client := connectPair(t, nil, nil, esme)

	_, err := client.Bind(ctx, BindParameter{BindType: BindTransceiver, SystemID: "esme", Password: "secret"})
	require.NoError(t, err)

	require.NoError(t, ss.DeliverShortMessage(ctx, &DeliverSM{ShortMessageFields{ShortMessage: []byte("mo")}}))
	select {
	case sm := <-esme.deliveries:
		assert.Equal(t, []byte("mo"), sm.ShortMessage)
	case <-time.After(time.Second):
		t.Fatal("deliver_sm not received")
	}

	resp, err := ss.DataShortMessage(ctx, &DataSM{})
	require.NoError(t, err)
	assert.Equal(t, "esme-data", resp.MessageID)

	r, err := client.DataShortMessage(ctx, &DataSM{})
	require.NoError(t, err)
	assert.Equal(t, "data", r.MessageID)
}

func TestBindTimeoutClosesSession(t *testing.T) {
	srv := NewServer(&ServerConfig{BindTimeout: 50 * time.Millisecond}, ServerDependencies{})
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	ss := srv.ServeConn(serverConn)

	select {
	case <-ss.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still open after bind timeout")
	}
	assert.Equal(t, SessionStateClosed, ss.State())
}

func TestOutbindFlow(t *testing.T) {
	ctx := testContext(t)
	srv := NewServer(nil, ServerDependencies{Listener: &smscStub{}, BindListener: acceptSecret})
	esme := newESMEStub()
	ob := NewOutboundServer(nil, ClientDependencies{Listener: esme})
	t.Cleanup(func() { _ = ob.Close() })

	serverConn, clientConn := net.Pipe()
	client := ob.ServeConn(clientConn)
	require.NotNil(t, client)
	ss := srv.ServeConn(serverConn)
	t.Cleanup(func() {
		client.Close()
		ss.Close()
	})
	assert.Equal(t, RoleOutboundClient, client.Role())

	accepted, err := ob.Accept(ctx)
	require.NoError(t, err)
	assert.Same(t, client, accepted)

	require.NoError(t, ss.SendOutbind("smsc", "pw"))
	req, err := client.WaitForOutbind(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "smsc", req.SystemID)
	assert.Equal(t, "pw", req.Password)

	systemID, err := client.Bind(ctx, BindParameter{BindType: BindReceiver, SystemID: "esme", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "sys", systemID)
	assert.Equal(t, SessionStateBoundRX, ss.State())
	assert.ErrorIs(t, ss.SendOutbind("smsc", "pw"), ErrIllegalState)

	require.NoError(t, ss.DeliverShortMessage(ctx, &DeliverSM{ShortMessageFields{ShortMessage: []byte("hello")}}))
	select {
	case sm := <-esme.deliveries:
		assert.Equal(t, []byte("hello"), sm.ShortMessage)
	case <-time.After(time.Second):
		t.Fatal("deliver_sm not received")
	}
}

// rawPeer speaks SMPP by hand on one end of a pipe.
type rawPeer struct {
	t      *testing.T
	conn   net.Conn
	reader *FrameReader
}

func newRawPeer(t *testing.T, conn net.Conn) *rawPeer {
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{t: t, conn: conn, reader: NewFrameReader(conn, 2*time.Second)}
}

func (p *rawPeer) send(seq uint32, body PDUBody) {
	data, err := NewPDUEncoder().Encode(&PDU{Header: PDUHeader{SequenceNum: seq}, Body: body})
	require.NoError(p.t, err)
	p.write(data)
}

func (p *rawPeer) write(data []byte) {
	_, err := p.conn.Write(data)
	require.NoError(p.t, err)
}

func (p *rawPeer) read() *PDU {
	header, err := p.reader.ReadHeader()
	require.NoError(p.t, err)
	body, err := p.reader.ReadBody(header)
	require.NoError(p.t, err)
	pdu, err := NewPDUDecoder().DecodeBody(*header, body)
	require.NoError(p.t, err)
	return pdu
}

func (p *rawPeer) expect(commandID, status, seq uint32) *PDU {
	pdu := p.read()
	assert.Equal(p.t, CommandName(commandID), CommandName(pdu.Header.CommandID))
	assert.Equal(p.t, status, pdu.Header.CommandStatus)
	assert.Equal(p.t, seq, pdu.Header.SequenceNum)
	return pdu
}

func TestConcurrentBindAcceptedOnce(t *testing.T) {
	reqs := make(chan *BindRequest, 2)
	srv := NewServer(nil, ServerDependencies{
		Listener:     &smscStub{},
		BindListener: BindListenerFunc(func(_ *ServerSession, req *BindRequest) { reqs <- req }),
	})
	serverConn, peerConn := net.Pipe()
	ss := srv.ServeConn(serverConn)
	t.Cleanup(func() { ss.Close() })
	peer := newRawPeer(t, peerConn)

	peer.send(1, &Bind{Type: BindTransceiver, SystemID: "first", Password: "secret"})
	peer.send(2, &Bind{Type: BindTransmitter, SystemID: "second", Password: "secret"})

	var pending []*BindRequest
	for len(pending) < 2 {
		select {
		case req := <-reqs:
			pending = append(pending, req)
		case <-time.After(2 * time.Second):
			t.Fatal("bind requests not delivered")
		}
	}

	start := make(chan struct{})
	errs := make(chan error, 2)
	for _, req := range pending {
		go func(req *BindRequest) {
			<-start
			errs <- req.Accept("sys")
		}(req)
	}
	close(start)

	resp := peer.read()
	assert.Equal(t, StatusOK, resp.Header.CommandStatus)

	var failed int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.ErrorIs(t, err, ErrIllegalState)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	bt, err := BindTypeFromCommandID(resp.Header.CommandID)
	require.NoError(t, err)
	assert.Equal(t, bt.BoundState(), ss.State())
	want := map[BindType]string{BindTransceiver: "first", BindTransmitter: "second"}
	assert.Equal(t, want[bt], ss.SystemID())
}

func TestServerSessionStateRules(t *testing.T) {
	srv := NewServer(nil, ServerDependencies{Listener: &smscStub{}, BindListener: acceptSecret})
	serverConn, peerConn := net.Pipe()
	ss := srv.ServeConn(serverConn)
	t.Cleanup(func() { ss.Close() })
	peer := newRawPeer(t, peerConn)

	peer.send(1, &SubmitSM{ShortMessageFields{DestAddr: Address{Addr: "2000"}}})
	peer.expect(CommandSubmitSMResp, StatusInvBnd, 1)

	peer.send(2, &EnquireLink{})
	peer.expect(CommandEnquireLinkResp, StatusOK, 2)

	peer.write(NewPDUEncoder().EncodeRaw(0x00000099, 0, 3, nil))
	peer.expect(CommandGenericNack, StatusInvCmdID, 3)

	peer.send(4, &Bind{Type: BindTransmitter, SystemID: "esme", Password: "secret", InterfaceVersion: InterfaceVersion34})
	resp := peer.expect(CommandBindTransmitterResp, StatusOK, 4)
	br, ok := resp.Body.(*BindResp)
	require.True(t, ok)
	assert.Equal(t, "sys", br.SystemID)
	version, ok := br.InterfaceVersion()
	require.True(t, ok)
	assert.Equal(t, uint8(InterfaceVersion34), version)

	peer.send(5, &Bind{Type: BindReceiver, SystemID: "esme", Password: "secret"})
	peer.expect(CommandBindReceiverResp, StatusAlreadyBnd, 5)

	peer.send(6, &Unbind{})
	peer.expect(CommandUnbindResp, StatusOK, 6)
	select {
	case <-ss.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still open after unbind")
	}
}

func TestInvalidCommandLengthClosesSession(t *testing.T) {
	srv := NewServer(nil, ServerDependencies{})
	serverConn, peerConn := net.Pipe()
	ss := srv.ServeConn(serverConn)
	t.Cleanup(func() { ss.Close() })
	peer := newRawPeer(t, peerConn)

	peer.write([]byte{0, 0, 0, 8, 0, 0, 0, 0})
	peer.expect(CommandGenericNack, StatusInvCmdLen, 0)
	select {
	case <-ss.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still open after invalid command length")
	}
}

func TestClientFailsBindOnStrayPDU(t *testing.T) {
	ctx := testContext(t)
	clientConn, peerConn := net.Pipe()
	client := NewClient(nil, ClientDependencies{})
	require.NoError(t, client.Start(clientConn))
	t.Cleanup(func() { client.Close() })
	peer := newRawPeer(t, peerConn)

	result := make(chan error, 1)
	go func() {
		_, err := client.Bind(ctx, BindParameter{BindType: BindTransmitter, SystemID: "esme"})
		result <- err
	}()

	bind := peer.read()
	assert.Equal(t, CommandBindTransmitter, bind.Header.CommandID)
	peer.write(NewPDUEncoder().EncodeRaw(CommandSubmitSMResp, StatusOK, 77, nil))

	err := <-result
	var inv *InvalidResponseError
	assert.ErrorAs(t, err, &inv)
	assert.Equal(t, SessionStateOpen, client.State())
}

func TestClientLateResponses(t *testing.T) {
	ctx := testContext(t)
	clientConn, peerConn := net.Pipe()
	cfg := &ClientConfig{SessionConfig: SessionConfig{TransactionTimeout: 200 * time.Millisecond}}
	client := NewClient(cfg, ClientDependencies{})
	require.NoError(t, client.Start(clientConn))
	t.Cleanup(func() { client.Close() })
	peer := newRawPeer(t, peerConn)

	bound := make(chan error, 1)
	go func() {
		_, err := client.Bind(ctx, BindParameter{BindType: BindTransmitter, SystemID: "esme"})
		bound <- err
	}()
	bind := peer.read()
	peer.send(bind.Header.SequenceNum, &BindResp{Type: BindTransmitter, SystemID: "raw"})
	require.NoError(t, <-bound)

	linked := make(chan error, 1)
	go func() { linked <- client.EnquireLink(ctx) }()
	enquire := peer.read()
	assert.Equal(t, CommandEnquireLink, enquire.Header.CommandID)

	err := <-linked
	var timeout *ResponseTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.True(t, IsRetryable(err))

	// The late enquire_link_resp is dropped silently; the unmatched
	// query_sm_resp that follows is answered with generic_nack.
	peer.write(NewPDUEncoder().EncodeRaw(CommandEnquireLinkResp, StatusOK, enquire.Header.SequenceNum, nil))
	peer.write(NewPDUEncoder().EncodeRaw(CommandQuerySMResp, StatusOK, 999, nil))
	peer.expect(CommandGenericNack, StatusInvDftMsgID, 999)

	assert.Equal(t, SessionStateBoundTX, client.State())
}

func TestDialOutbindOverTCP(t *testing.T) {
	ctx := testContext(t)
	esme := newESMEStub()
	ob := NewOutboundServer(nil, ClientDependencies{Listener: esme})
	require.NoError(t, ob.Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = ob.Close() })

	ss, err := DialOutbind(ctx, ob.Addr().String(), "smsc", "pw", nil, ServerDependencies{BindListener: acceptSecret})
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client, err := ob.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	req, err := client.WaitForOutbind(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "smsc", req.SystemID)

	_, err = client.Bind(ctx, BindParameter{BindType: BindTransceiver, SystemID: "esme", Password: "secret"})
	require.NoError(t, err)

	require.NoError(t, ss.AlertNotification(ctx, &AlertNotification{
		SourceAddr: Address{TON: 1, NPI: 1, Addr: "2000"},
		ESMEAddr:   Address{TON: 1, NPI: 1, Addr: "1000"},
	}))
	select {
	case an := <-esme.alerts:
		assert.Equal(t, "2000", an.SourceAddr.Addr)
	case <-time.After(2 * time.Second):
		t.Fatal("alert_notification not received")
	}

	require.NoError(t, client.UnbindAndClose(ctx))
	select {
	case <-ss.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server session did not close after unbind")
	}
}
