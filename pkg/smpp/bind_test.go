package smpp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingResponder struct {
	accepted []string
	params   OptionalParameters
	rejected []uint32
}

func (r *recordingResponder) acceptBind(_ *BindRequest, systemID string, params OptionalParameters) error {
	r.accepted = append(r.accepted, systemID)
	r.params = params
	return nil
}

func (r *recordingResponder) rejectBind(_ *BindRequest, status uint32) error {
	r.rejected = append(r.rejected, status)
	return nil
}

func testBind() *Bind {
	return &Bind{Type: BindReceiver, SystemID: "esme", Password: "secret", InterfaceVersion: InterfaceVersion34}
}

func TestBindRequestAcceptOnce(t *testing.T) {
	responder := &recordingResponder{}
	req := newBindRequest(testBind(), 12, responder)
	assert.Equal(t, BindReceiver, req.BindType())
	assert.Equal(t, uint32(12), req.SequenceNum)
	assert.False(t, req.Responded())

	require.NoError(t, req.Accept("smsc", NewByteParameter(TagSCInterfaceVersion, InterfaceVersion34)))
	assert.True(t, req.Responded())
	assert.ErrorIs(t, req.Accept("smsc"), ErrBindResponded)
	assert.ErrorIs(t, req.Reject(StatusBindFail), ErrIllegalState)

	assert.Equal(t, []string{"smsc"}, responder.accepted)
	assert.Len(t, responder.params, 1)
	assert.Empty(t, responder.rejected)
}

func TestBindRequestReject(t *testing.T) {
	responder := &recordingResponder{}
	req := newBindRequest(testBind(), 1, responder)

	require.NoError(t, req.Reject(StatusInvPaswd))
	assert.ErrorIs(t, req.Accept("smsc"), ErrBindResponded)
	assert.Equal(t, []uint32{StatusInvPaswd}, responder.rejected)
	assert.Empty(t, responder.accepted)
}

func TestBindRequestAcceptInvalidSystemID(t *testing.T) {
	responder := &recordingResponder{}
	req := newBindRequest(testBind(), 1, responder)

	err := req.Accept("a-system-id-that-is-too-long")
	assert.Equal(t, StatusInvSysID, StatusOf(err, StatusOK))
	// Validation failures do not use up the single answer.
	assert.False(t, req.Responded())
	require.NoError(t, req.Accept("smsc"))
}

func TestRequestReceiver(t *testing.T) {
	t.Run("delivers the first request", func(t *testing.T) {
		rr := newRequestReceiver[*Outbind]("outbind")
		ob := &Outbind{SystemID: "smsc"}
		require.NoError(t, rr.notify(ob))
		assert.ErrorIs(t, rr.notify(&Outbind{}), ErrIllegalState)

		got, err := rr.wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Same(t, ob, got)

		_, err = rr.wait(context.Background(), time.Second)
		assert.ErrorIs(t, err, ErrIllegalState)
	})

	t.Run("waits for a late request", func(t *testing.T) {
		rr := newRequestReceiver[*Outbind]("outbind")
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = rr.notify(&Outbind{SystemID: "late"})
		}()
		got, err := rr.wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, "late", got.SystemID)
	})

	t.Run("times out", func(t *testing.T) {
		rr := newRequestReceiver[*BindRequest]("bind")
		_, err := rr.wait(context.Background(), 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrBindTimeout)
	})

	t.Run("honours context", func(t *testing.T) {
		rr := newRequestReceiver[*BindRequest]("bind")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := rr.wait(ctx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBindTypes(t *testing.T) {
	cases := []struct {
		name  string
		want  BindType
		state SessionState
	}{
		{"tx", BindTransmitter, SessionStateBoundTX},
		{"Receiver", BindReceiver, SessionStateBoundRX},
		{"", BindTransceiver, SessionStateBoundTRX},
	}
	for _, tc := range cases {
		bt, err := ParseBindType(tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.want, bt)
		assert.Equal(t, tc.state, bt.BoundState())
	}

	_, err := ParseBindType("sideways")
	assert.Error(t, err)

	bt, err := BindTypeFromCommandID(CommandBindTransceiverResp)
	require.NoError(t, err)
	assert.Equal(t, BindTransceiver, bt)
	assert.Equal(t, CommandBindReceiverResp, BindReceiver.ResponseCommandID())
}
