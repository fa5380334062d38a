package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vatsim-vacs/vacs-client/internal/protocol"
)

func isLogout(msg protocol.SignalingMessage) bool {
	_, ok := msg.(protocol.LogoutMessage)
	return ok
}

func TestMatcherWaitFor(t *testing.T) {
	m := NewResponseMatcher()

	result := make(chan protocol.SignalingMessage, 1)
	go func() {
		msg, err := m.WaitFor(context.Background(), isLogout)
		require.NoError(t, err)
		result <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	m.TryMatch(protocol.LogoutMessage{})

	msg := <-result
	assert.Equal(t, protocol.LogoutMessage{}, msg)
}

func TestMatcherWaitForContent(t *testing.T) {
	m := NewResponseMatcher()
	want := protocol.ClientListMessage{Clients: []protocol.ClientInfo{{ID: "client1", DisplayName: "Client 1", Frequency: "100.000"}}}

	result := make(chan protocol.SignalingMessage, 1)
	go func() {
		msg, err := m.WaitFor(context.Background(), func(msg protocol.SignalingMessage) bool {
			_, ok := msg.(protocol.ClientListMessage)
			return ok
		})
		require.NoError(t, err)
		result <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	m.TryMatch(want)

	got := <-result
	list, ok := got.(protocol.ClientListMessage)
	require.True(t, ok)
	assert.Len(t, list.Clients, 1)
}

func TestMatcherWaitForMatchingPeerID(t *testing.T) {
	m := NewResponseMatcher()
	messages := []protocol.SignalingMessage{
		protocol.CallAnswerMessage{PeerID: "client1", SDP: "sdp1"},
		protocol.CallAnswerMessage{PeerID: "client2", SDP: "sdp2"},
		protocol.CallAnswerMessage{PeerID: "client3", SDP: "sdp3"},
	}

	result := make(chan protocol.SignalingMessage, 1)
	go func() {
		msg, err := m.WaitFor(context.Background(), func(msg protocol.SignalingMessage) bool {
			ans, ok := msg.(protocol.CallAnswerMessage)
			return ok && ans.PeerID == "client2"
		})
		require.NoError(t, err)
		result <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	for _, msg := range messages {
		m.TryMatch(msg)
	}

	got := <-result
	ans, ok := got.(protocol.CallAnswerMessage)
	require.True(t, ok)
	assert.Equal(t, "client2", ans.PeerID)
	assert.Equal(t, "sdp2", ans.SDP)
}

func TestMatcherWaitForWithTimeout(t *testing.T) {
	m := NewResponseMatcher()

	result := make(chan error, 1)
	msgCh := make(chan protocol.SignalingMessage, 1)
	go func() {
		msg, err := m.WaitForWithTimeout(context.Background(), isLogout, 100*time.Millisecond)
		result <- err
		msgCh <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	m.TryMatch(protocol.LogoutMessage{})

	require.NoError(t, <-result)
	assert.Equal(t, protocol.LogoutMessage{}, <-msgCh)
}

func TestMatcherWaitForWithTimeoutExpires(t *testing.T) {
	m := NewResponseMatcher()

	_, err := m.WaitForWithTimeout(context.Background(), isLogout, 1*time.Millisecond)
	assert.ErrorIs(t, err, ErrMatcherTimeout)
}

func TestMatcherTryMatchMatchesOnlyOnce(t *testing.T) {
	m := NewResponseMatcher()

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := range results {
		go func(i int) {
			defer wg.Done()
			_, err := m.WaitForWithTimeout(context.Background(), isLogout, 20*time.Millisecond)
			results[i] = err
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	m.TryMatch(protocol.LogoutMessage{})
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestMatcherTryMatchWithOverlappingPredicates(t *testing.T) {
	m := NewResponseMatcher()

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := m.WaitForWithTimeout(context.Background(), func(msg protocol.SignalingMessage) bool {
			if isLogout(msg) {
				return true
			}
			_, ok := msg.(protocol.PeerNotFoundMessage)
			return ok
		}, 20*time.Millisecond)
		results[0] = err
	}()
	go func() {
		defer wg.Done()
		_, err := m.WaitForWithTimeout(context.Background(), isLogout, 20*time.Millisecond)
		results[1] = err
	}()

	time.Sleep(10 * time.Millisecond)
	m.TryMatch(protocol.LogoutMessage{})
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestMatcherTryMatchConcurrentWaiters(t *testing.T) {
	m := NewResponseMatcher()

	const n = 10
	var wg sync.WaitGroup
	var barrier sync.WaitGroup
	barrier.Add(n)
	results := make([]error, n)
	wg.Add(n)
	for i := range results {
		go func(i int) {
			defer wg.Done()
			barrier.Done()
			barrier.Wait()
			_, err := m.WaitForWithTimeout(context.Background(), isLogout, 20*time.Millisecond)
			results[i] = err
		}(i)
	}

	barrier.Wait()
	time.Sleep(10 * time.Millisecond)
	m.TryMatch(protocol.LogoutMessage{})
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestMatcherTryMatchBurst(t *testing.T) {
	m := NewResponseMatcher()

	res1 := make(chan protocol.SignalingMessage, 1)
	res2 := make(chan protocol.SignalingMessage, 1)

	go func() {
		msg, err := m.WaitFor(context.Background(), func(msg protocol.SignalingMessage) bool {
			_, ok := msg.(protocol.CallAnswerMessage)
			return ok
		})
		require.NoError(t, err)
		res1 <- msg
	}()
	go func() {
		msg, err := m.WaitFor(context.Background(), func(msg protocol.SignalingMessage) bool {
			_, ok := msg.(protocol.ClientListMessage)
			return ok
		})
		require.NoError(t, err)
		res2 <- msg
	}()

	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 10; i++ {
		m.TryMatch(protocol.LogoutMessage{})
	}
	m.TryMatch(protocol.ClientListMessage{Clients: []protocol.ClientInfo{{ID: "client1", DisplayName: "Client 1", Frequency: "100.000"}}})
	m.TryMatch(protocol.CallAnswerMessage{PeerID: "client2", SDP: "sdp2"})

	_, ok1 := (<-res1).(protocol.CallAnswerMessage)
	_, ok2 := (<-res2).(protocol.ClientListMessage)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestMatcherTryMatchWithoutMatchers(t *testing.T) {
	m := NewResponseMatcher()
	m.TryMatch(protocol.LogoutMessage{})
}

func TestMatcherClearWakesWaiters(t *testing.T) {
	m := NewResponseMatcher()

	result := make(chan error, 1)
	go func() {
		_, err := m.WaitFor(context.Background(), isLogout)
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.Clear()

	assert.ErrorIs(t, <-result, ErrMatcherDisconnected)
}
