package signaling

import (
	"sync"

	"github.com/vatsim-vacs/vacs-client/internal/protocol"
)

// eventBufferSize is each subscriber's channel capacity; exceeding it
// mid-burst drops the subscriber rather than blocking the reader task.
const eventBufferSize = 64

// eventBus fans every inbound SignalingMessage out to general-purpose
// subscribers (as opposed to the ResponseMatcher's one-shot,
// predicate-matched waiters). Mirrors internal/webrtc/internal.Broadcaster's
// Lagged-as-disconnect rule: a slow subscriber's channel is closed instead
// of blocking the publisher.
type eventBus struct {
	mu     sync.Mutex
	subs   map[int]chan protocol.SignalingMessage
	nextID int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan protocol.SignalingMessage)}
}

func (b *eventBus) Subscribe() (int, <-chan protocol.SignalingMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan protocol.SignalingMessage, eventBufferSize)
	b.subs[id] = ch
	return id, ch
}

func (b *eventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *eventBus) Publish(msg protocol.SignalingMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}
