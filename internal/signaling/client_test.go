package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vatsim-vacs/vacs-client/internal/protocol"
	"github.com/vatsim-vacs/vacs-client/internal/signaling/transport"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

func newTestClient() (*Client, *transport.MockTransport) {
	mock := transport.NewMockTransport()
	return NewClient(mock, logging.NewNop()), mock
}

func TestClientSend(t *testing.T) {
	client, mock := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan InterruptionReason, 1)
	go func() { done <- client.Start(ctx) }()

	msg := protocol.LoginMessage{Token: "test", ProtocolVersion: "0.0.0"}
	require.NoError(t, client.Send(ctx, msg))

	sent := <-mock.Outgoing
	decoded, err := protocol.Unmarshal(sent)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	cancel()
	<-done
}

func TestClientSendBeforeLoginRejected(t *testing.T) {
	client, _ := newTestClient()
	ctx := context.Background()

	err := client.Send(ctx, protocol.LogoutMessage{})
	assert.Error(t, err)
}

func TestClientLoginSuccess(t *testing.T) {
	client, mock := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan InterruptionReason, 1)
	go func() { done <- client.Start(ctx) }()

	loginDone := make(chan struct{})
	var clients []protocol.ClientInfo
	var loginErr error
	go func() {
		clients, loginErr = client.Login(ctx, "token1", "0.0.0", time.Second)
		close(loginDone)
	}()

	<-mock.Outgoing // drain the Login frame

	reply, err := protocol.Marshal(protocol.ClientListMessage{Clients: []protocol.ClientInfo{
		{ID: "client1", DisplayName: "Client 1", Frequency: "100.000"},
	}})
	require.NoError(t, err)
	mock.Push(reply)

	<-loginDone
	require.NoError(t, loginErr)
	assert.Len(t, clients, 1)
	assert.True(t, client.IsLoggedIn())

	cancel()
	<-done
}

func TestClientLoginFailure(t *testing.T) {
	client, mock := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan InterruptionReason, 1)
	go func() { done <- client.Start(ctx) }()

	loginDone := make(chan struct{})
	var loginErr error
	go func() {
		_, loginErr = client.Login(ctx, "token1", "0.0.0", time.Second)
		close(loginDone)
	}()

	<-mock.Outgoing

	reply, err := protocol.Marshal(protocol.LoginFailureMessage{Reason: "DuplicateId"})
	require.NoError(t, err)
	mock.Push(reply)

	<-loginDone
	assert.Error(t, loginErr)
	assert.False(t, client.IsLoggedIn())

	cancel()
	<-done
}

func TestClientSubscribeReceivesBroadcast(t *testing.T) {
	client, mock := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan InterruptionReason, 1)
	go func() { done <- client.Start(ctx) }()

	_, events := client.Subscribe()

	data, err := protocol.Marshal(protocol.ClientConnectedMessage{Client: protocol.ClientInfo{ID: "c1", DisplayName: "C1", Frequency: "100.000"}})
	require.NoError(t, err)
	mock.Push(data)

	select {
	case msg := <-events:
		_, ok := msg.(protocol.ClientConnectedMessage)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}

	cancel()
	<-done
}

func TestClientDisconnectReturnsDisconnected(t *testing.T) {
	client, _ := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan InterruptionReason, 1)
	go func() { done <- client.Start(ctx) }()

	client.Disconnect()
	reason := <-done
	assert.Equal(t, ReasonDisconnected, reason)
}

func TestClientShutdownReturnsShutdown(t *testing.T) {
	client, _ := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan InterruptionReason, 1)
	go func() { done <- client.Start(ctx) }()

	cancel()
	reason := <-done
	assert.Equal(t, ReasonShutdown, reason)
}
