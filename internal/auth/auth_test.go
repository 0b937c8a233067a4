package auth

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a := New("smsc", nil).WithCost(bcrypt.MinCost)
	require.NoError(t, a.CreateUser("test", "test", 1))
	require.NoError(t, a.CreateUser("rxonly", "secret", 0, smpp.BindReceiver))
	return a
}

func TestCreateUser(t *testing.T) {
	a := newAuthenticator(t)

	user, err := a.GetUser("test")
	require.NoError(t, err)
	assert.True(t, user.Active)
	assert.NotEqual(t, "test", user.PasswordHash)

	assert.ErrorIs(t, a.CreateUser("test", "other", 0), ErrUserExists)
	assert.Error(t, a.CreateUser("", "pw", 0))
	assert.Error(t, a.CreateUser("averyveryverylongid", "pw", 0))
	assert.Equal(t, []string{"rxonly", "test"}, a.ListUsers())

	require.NoError(t, a.DeleteUser("rxonly"))
	assert.ErrorIs(t, a.DeleteUser("rxonly"), ErrUserNotFound)
}

func TestAuthenticate(t *testing.T) {
	a := newAuthenticator(t)
	require.NoError(t, a.CreateUser("off", "pw", 0))
	require.NoError(t, a.SetActive("off", false))

	cases := []struct {
		desc     string
		systemID string
		password string
		bindType smpp.BindType
		err      error
		status   uint32
	}{
		{"valid credentials", "test", "test", smpp.BindTransceiver, nil, smpp.StatusOK},
		{"unknown user", "nobody", "test", smpp.BindTransmitter, ErrUserNotFound, smpp.StatusInvSysID},
		{"wrong password", "test", "wrong", smpp.BindTransmitter, ErrInvalidCredentials, smpp.StatusInvPaswd},
		{"inactive user", "off", "pw", smpp.BindTransmitter, ErrUserInactive, smpp.StatusInvSysID},
		{"bind type not allowed", "rxonly", "secret", smpp.BindTransmitter, ErrBindTypeNotAllowed, smpp.StatusBindFail},
		{"allowed bind type", "rxonly", "secret", smpp.BindReceiver, nil, smpp.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			user, err := a.Authenticate(context.Background(), tc.systemID, tc.password, tc.bindType)
			assert.Equal(t, tc.status, BindStatus(err))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.systemID, user.SystemID)
		})
	}
}

func bindOverPipe(t *testing.T, srv *smpp.Server, param smpp.BindParameter) (*smpp.Client, *smpp.ServerSession, error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	ss := srv.ServeConn(serverConn)
	client := smpp.NewClient(&smpp.ClientConfig{}, smpp.ClientDependencies{})
	require.NoError(t, client.Start(clientConn))
	t.Cleanup(func() {
		client.Close()
		ss.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Bind(ctx, param)
	return client, ss, err
}

func TestOnBind(t *testing.T) {
	a := newAuthenticator(t)
	srv := smpp.NewServer(&smpp.ServerConfig{}, smpp.ServerDependencies{
		BindListener:    a,
		SessionListener: smpp.ServerSessionListenerFunc(func(*smpp.ServerSession) {}),
	})

	_, _, err := bindOverPipe(t, srv, smpp.BindParameter{BindType: smpp.BindTransmitter, SystemID: "test", Password: "nope"})
	assert.Equal(t, smpp.StatusInvPaswd, smpp.StatusOf(err, smpp.StatusOK))

	client, ss, err := bindOverPipe(t, srv, smpp.BindParameter{BindType: smpp.BindTransmitter, SystemID: "test", Password: "test"})
	require.NoError(t, err)
	assert.Equal(t, smpp.SessionStateBoundTX, client.State())
	assert.Equal(t, 1, a.ActiveSessions("test"))

	// MaxSessions is one for "test".
	_, _, err = bindOverPipe(t, srv, smpp.BindParameter{BindType: smpp.BindTransmitter, SystemID: "test", Password: "test"})
	assert.Equal(t, smpp.StatusBindFail, smpp.StatusOf(err, smpp.StatusOK))

	require.NoError(t, ss.Close())
	assert.Eventually(t, func() bool { return a.ActiveSessions("test") == 0 }, time.Second, 10*time.Millisecond)
}
