// Package internal holds the WebRTC peer session's constants and its
// broadcast event primitive, kept separate from the exported Peer type the
// same way the teacher splits its webrtc internals from its streamer.
package internal

import "sync"

const (
	TrackID       = "audio"
	TrackStreamID = "vacs-audio"

	OpusSampleRate  = 48000
	OpusChannels    = 1
	OpusPayloadType = 111

	// RTPBufferSize bounds one read off a remote track; large enough for
	// any single Opus-in-RTP packet.
	RTPBufferSize = 1500

	// EventBufferSize is each subscriber's broadcast channel capacity.
	// Exceeding it mid-burst drops the subscriber (treated as Lagged).
	EventBufferSize = 32
)

// ConnectionState mirrors the peer connection lifecycle states a
// subscriber needs to observe, independent of the underlying pion enum so
// callers outside this package never import pion directly.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// EventKind distinguishes the variants of PeerEvent.
type EventKind int

const (
	EventConnectionState EventKind = iota
	EventICECandidate
	EventError
)

// PeerEvent is the broadcast union a Peer emits: a connection state
// transition, a locally-gathered ICE candidate (already serialised to the
// wire's JSON string form), or an error description.
type PeerEvent struct {
	Kind  EventKind
	State ConnectionState
	Text  string // serialised candidate, or error text
}

// Broadcaster fans PeerEvent out to any number of subscribers. A
// subscriber whose channel fills before it drains is dropped rather than
// blocking the publisher — the spec's Lagged-as-disconnect rule, expressed
// in Go as "the channel closes out from under you" instead of Rust's
// explicit RecvError::Lagged variant.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan PeerEvent
	nextID  int
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan PeerEvent)}
}

// Subscribe registers a new listener and returns its receive-only channel
// and an id usable with Unsubscribe. The channel is closed automatically
// if the subscriber lags or when Close is called.
func (b *Broadcaster) Subscribe() (int, <-chan PeerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan PeerEvent, EventBufferSize)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the given subscriber's channel. Safe to
// call more than once or after the subscriber was already dropped for
// lagging.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends ev to every current subscriber. A subscriber too far
// behind to accept the event without blocking is dropped and its channel
// closed, signalling Lagged-as-disconnect to that reader.
func (b *Broadcaster) Publish(ev PeerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Close tears down every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
