package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	ev := PeerEvent{Kind: EventConnectionState, State: StateConnected}
	b.Publish(ev)

	assert.Equal(t, ev, <-ch1)
	assert.Equal(t, ev, <-ch2)
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")

	// Unsubscribing again, or an id that was never registered, must not panic.
	b.Unsubscribe(id)
	b.Unsubscribe(999)
}

func TestBroadcasterDropsLaggedSubscriberInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()

	// Fill the subscriber's buffer without draining it.
	for i := 0; i < EventBufferSize; i++ {
		b.Publish(PeerEvent{Kind: EventError, Text: "fill"})
	}

	done := make(chan struct{})
	go func() {
		// A lagging subscriber must be dropped, not block the publisher.
		b.Publish(PeerEvent{Kind: EventError, Text: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a lagged subscriber")
	}

	// Drain the buffered events, then the channel should be closed.
	for i := 0; i < EventBufferSize; i++ {
		<-ch
	}
	_, ok := <-ch
	assert.False(t, ok, "lagged subscriber's channel should have been closed")
}

func TestBroadcasterCloseTearsDownAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestConnectionStateString(t *testing.T) {
	require.Equal(t, "Connected", StateConnected.String())
	require.Equal(t, "Unknown", ConnectionState(99).String())
}
