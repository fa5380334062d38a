package signaling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vatsim-vacs/vacs-client/internal/protocol"
	"github.com/vatsim-vacs/vacs-client/internal/signaling/transport"
	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

func testReconnectCfg() config.SignalingConfig {
	return config.SignalingConfig{
		URL:                  "ws://test",
		Token:                "token1",
		ProtocolVersion:      "0.0.0",
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           4 * time.Millisecond,
		LoginTimeout:         time.Second,
		AutoHangupSeconds:    30,
	}
}

// respondLoginOK drains the Login frame off mock.Outgoing and pushes back a
// successful ClientList reply.
func respondLoginOK(t *testing.T, mock *transport.MockTransport) {
	t.Helper()
	<-mock.Outgoing
	reply, err := protocol.Marshal(protocol.ClientListMessage{})
	if err != nil {
		t.Fatal(err)
	}
	mock.Push(reply)
}

func TestRunStopsOnShutdown(t *testing.T) {
	var dials atomic.Int32
	var disconnects atomic.Int32

	client := NewClient(nil, logging.NewNop())
	dial := func(ctx context.Context) (transport.Transport, error) {
		dials.Add(1)
		mock := transport.NewMockTransport()
		go respondLoginOK(t, mock)
		return mock, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, client, dial, testReconnectCfg(), func() { disconnects.Add(1) }, logging.NewNop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return client.IsLoggedIn() }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	assert.Equal(t, int32(1), dials.Load())
}

func TestRunReconnectsAfterDisconnect(t *testing.T) {
	var dials atomic.Int32
	var disconnects atomic.Int32

	client := NewClient(nil, logging.NewNop())
	firstMock := transport.NewMockTransport()

	dial := func(ctx context.Context) (transport.Transport, error) {
		n := dials.Add(1)
		if n == 1 {
			go respondLoginOK(t, firstMock)
			return firstMock, nil
		}
		mock := transport.NewMockTransport()
		go respondLoginOK(t, mock)
		return mock, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		Run(ctx, client, dial, testReconnectCfg(), func() { disconnects.Add(1) }, logging.NewNop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return client.IsLoggedIn() }, time.Second, time.Millisecond)

	require := dials.Load()
	_ = firstMock.Close() // simulate the transport dying out from under the client

	assert.Eventually(t, func() bool { return dials.Load() > require }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return disconnects.Load() >= 1 }, time.Second, time.Millisecond)
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	dialErr := errors.New("connection refused")

	client := NewClient(nil, logging.NewNop())
	dial := func(ctx context.Context) (transport.Transport, error) {
		dials.Add(1)
		return nil, dialErr
	}

	cfg := testReconnectCfg()
	cfg.MaxReconnectAttempts = 2

	done := make(chan struct{})
	go func() {
		Run(context.Background(), client, dial, cfg, nil, logging.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not give up after exhausting reconnect attempts")
	}
	assert.GreaterOrEqual(t, int(dials.Load()), cfg.MaxReconnectAttempts)
}
