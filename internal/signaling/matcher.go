package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vatsim-vacs/vacs-client/internal/protocol"
)

// ErrMatcherTimeout is returned when no matching message arrived before the
// requested timeout elapsed.
var ErrMatcherTimeout = errors.New("signaling: matcher timed out")

// ErrMatcherDisconnected is returned when the matcher was cleared (the
// transport disconnected) while a waiter was still queued.
var ErrMatcherDisconnected = errors.New("signaling: matcher disconnected")

type matcherEntry struct {
	predicate func(protocol.SignalingMessage) bool
	responder chan protocol.SignalingMessage
}

// ResponseMatcher holds an ordered queue of (predicate, one-shot) waiters.
// The reader goroutine feeds every inbound message through TryMatch; the
// first queued entry whose predicate matches is removed and served. A
// message matching no queued predicate simply falls through to the
// general event stream.
type ResponseMatcher struct {
	mu    sync.Mutex
	queue []*matcherEntry
}

// NewResponseMatcher constructs an empty ResponseMatcher.
func NewResponseMatcher() *ResponseMatcher {
	return &ResponseMatcher{}
}

// WaitForWithTimeout queues predicate and blocks until a message matching
// it arrives, ctx is cancelled, or timeout elapses.
func (m *ResponseMatcher) WaitForWithTimeout(ctx context.Context, predicate func(protocol.SignalingMessage) bool, timeout time.Duration) (protocol.SignalingMessage, error) {
	entry := &matcherEntry{
		predicate: predicate,
		responder: make(chan protocol.SignalingMessage, 1),
	}

	m.mu.Lock()
	m.queue = append(m.queue, entry)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-entry.responder:
		if !ok {
			return nil, ErrMatcherDisconnected
		}
		return msg, nil
	case <-timer.C:
		m.remove(entry)
		return nil, ErrMatcherTimeout
	case <-ctx.Done():
		m.remove(entry)
		return nil, ctx.Err()
	}
}

// WaitFor queues predicate and blocks until a message matching it arrives
// or ctx is cancelled, with no timeout of its own.
func (m *ResponseMatcher) WaitFor(ctx context.Context, predicate func(protocol.SignalingMessage) bool) (protocol.SignalingMessage, error) {
	entry := &matcherEntry{
		predicate: predicate,
		responder: make(chan protocol.SignalingMessage, 1),
	}

	m.mu.Lock()
	m.queue = append(m.queue, entry)
	m.mu.Unlock()

	select {
	case msg, ok := <-entry.responder:
		if !ok {
			return nil, ErrMatcherDisconnected
		}
		return msg, nil
	case <-ctx.Done():
		m.remove(entry)
		return nil, ctx.Err()
	}
}

func (m *ResponseMatcher) remove(target *matcherEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.queue {
		if e == target {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// TryMatch is called by the reader goroutine for every inbound message. It
// finds the first queued entry whose predicate matches msg, removes it,
// and delivers msg to it. At most one matcher is served per call; a
// message matching nothing is a no-op.
func (m *ResponseMatcher) TryMatch(msg protocol.SignalingMessage) {
	m.mu.Lock()
	var matched *matcherEntry
	for i, e := range m.queue {
		if e.predicate(msg) {
			matched = e
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if matched != nil {
		matched.responder <- msg
	}
}

// Clear empties the queue and closes every waiter's channel, waking them
// with ErrMatcherDisconnected. Called when the transport disconnects or
// resets, so stale waiters don't hang forever.
func (m *ResponseMatcher) Clear() {
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, e := range queue {
		close(e.responder)
	}
}
