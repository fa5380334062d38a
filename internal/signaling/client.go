package signaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vatsim-vacs/vacs-client/internal/protocol"
	"github.com/vatsim-vacs/vacs-client/internal/signaling/transport"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

const sendChannelSize = 100

// InterruptionReason explains why Client.Start returned.
type InterruptionReason int

const (
	ReasonShutdown InterruptionReason = iota
	ReasonDisconnected
	ReasonError
)

func (r InterruptionReason) String() string {
	switch r {
	case ReasonShutdown:
		return "shutdown"
	case ReasonDisconnected:
		return "disconnected"
	default:
		return "error"
	}
}

// Client drives one signaling session over a transport.Transport: a
// reader goroutine that feeds every inbound message through the
// ResponseMatcher and then the subscriber broadcast, and a writer
// goroutine that drains an outbound send channel. Two cancellation
// levels exist: the caller's ctx is a permanent shutdown; Disconnect
// triggers a soft reset (logout then reconnect) without tearing down the
// Client value itself.
type Client struct {
	matcher *ResponseMatcher
	events  *eventBus

	transport transport.Transport
	logger    logging.Logger

	sendCh chan protocol.SignalingMessage

	mu              sync.Mutex
	disconnectCause func()

	loggedIn atomic.Bool
}

// NewClient builds a Client bound to the given transport. Start must be
// called before Send/Login will succeed.
func NewClient(tr transport.Transport, logger logging.Logger) *Client {
	return &Client{
		matcher:   NewResponseMatcher(),
		events:    newEventBus(),
		transport: tr,
		logger:    logger,
		sendCh:    make(chan protocol.SignalingMessage, sendChannelSize),
	}
}

// rebind swaps in a freshly dialed transport ahead of a reconnect attempt.
// Matcher and event subscriptions survive the swap: from a caller's
// perspective this is still the same logical client cycling through a new
// Connecting/Connected/LoggedIn lifecycle, not a new one.
func (c *Client) rebind(tr transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = tr
}

// Matcher exposes the client's ResponseMatcher for request/response-style
// call flows (offer/answer, accept/reject) that need to wait for one
// specific reply rather than the general event stream.
func (c *Client) Matcher() *ResponseMatcher { return c.matcher }

// Subscribe registers a listener on the general inbound event stream. A
// subscriber that falls behind is dropped (its channel closed) rather than
// blocking the reader.
func (c *Client) Subscribe() (int, <-chan protocol.SignalingMessage) {
	return c.events.Subscribe()
}

// Unsubscribe removes a previously registered listener.
func (c *Client) Unsubscribe(id int) {
	c.events.Unsubscribe(id)
}

// IsLoggedIn reports whether a Login has completed successfully and no
// Disconnect/logout has happened since.
func (c *Client) IsLoggedIn() bool {
	return c.loggedIn.Load()
}

// Send queues msg for the writer goroutine. Only a Login message may be
// sent before login completes; every other message is rejected to avoid
// the server observing out-of-order traffic.
func (c *Client) Send(ctx context.Context, msg protocol.SignalingMessage) error {
	if !c.loggedIn.Load() {
		if _, ok := msg.(protocol.LoginMessage); !ok {
			return vacserr.WrapProtocolError("not logged in", nil)
		}
	}

	select {
	case c.sendCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login sends a Login message and waits up to timeout for the server's
// ClientList (success) or LoginFailure/Error (rejection).
func (c *Client) Login(ctx context.Context, token, protocolVersion string, timeout time.Duration) ([]protocol.ClientInfo, error) {
	if err := c.Send(ctx, protocol.LoginMessage{Token: token, ProtocolVersion: protocolVersion}); err != nil {
		return nil, err
	}

	reply, err := c.matcher.WaitForWithTimeout(ctx, func(msg protocol.SignalingMessage) bool {
		switch msg.(type) {
		case protocol.ClientListMessage, protocol.LoginFailureMessage, protocol.ErrorMessage:
			return true
		default:
			return false
		}
	}, timeout)
	if err != nil {
		return nil, err
	}

	switch m := reply.(type) {
	case protocol.ClientListMessage:
		c.loggedIn.Store(true)
		return m.Clients, nil
	case protocol.LoginFailureMessage:
		c.loggedIn.Store(false)
		return nil, vacserr.NewLoginError(vacserr.LoginFailureReason(m.Reason))
	case protocol.ErrorMessage:
		c.loggedIn.Store(false)
		return nil, vacserr.WrapProtocolError("server rejected login", errors.New(string(m.Reason.Kind)))
	default:
		c.loggedIn.Store(false)
		return nil, vacserr.NewProtocolError("expected ClientList after Login")
	}
}

// Logout triggers a soft disconnect: the writer task sends a Logout frame
// then closes the transport, and Start returns ReasonDisconnected.
func (c *Client) Logout() {
	c.Disconnect()
}

// Disconnect triggers the soft-disconnect path without a permanent
// shutdown, used both for an explicit logout and for error-triggered
// reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cause := c.disconnectCause
	c.mu.Unlock()
	if cause != nil {
		cause()
	}
}

// Start runs the reader and writer tasks until ctx is cancelled
// (permanent shutdown), Disconnect is called, or either task errors.
// It blocks until the session ends and returns why.
func (c *Client) Start(ctx context.Context) InterruptionReason {
	disconnectCtx, disconnectCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.disconnectCause = disconnectCancel
	c.mu.Unlock()

	readerDone := make(chan InterruptionReason, 1)
	writerDone := make(chan InterruptionReason, 1)

	go func() { readerDone <- c.readerTask(ctx, disconnectCtx) }()
	go func() { writerDone <- c.writerTask(ctx, disconnectCtx) }()

	var reason InterruptionReason
	select {
	case reason = <-readerDone:
	case reason = <-writerDone:
	}

	disconnectCancel()
	<-readerDone
	<-writerDone

	c.loggedIn.Store(false)
	c.matcher.Clear()

	return reason
}

// readerTask reads off the transport until disconnectCtx ends (either the
// permanent shutdownCtx was cancelled, or a soft Disconnect fired).
// shutdownCtx alone determines which InterruptionReason that maps to,
// since disconnectCtx's own cancellation reason can't distinguish the two.
func (c *Client) readerTask(shutdownCtx, disconnectCtx context.Context) InterruptionReason {
	for {
		data, err := c.transport.Recv(disconnectCtx)
		if err != nil {
			if disconnectCtx.Err() != nil {
				if shutdownCtx.Err() == nil {
					return ReasonDisconnected
				}
				return reasonFor(shutdownCtx)
			}
			c.logger.Warnw("signaling transport recv failed", "error", err)
			return ReasonDisconnected
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.Warnw("failed to decode inbound signaling message, dropping", "error", err)
			continue
		}

		c.matcher.TryMatch(msg)
		c.events.Publish(msg)
	}
}

func (c *Client) writerTask(shutdownCtx, disconnectCtx context.Context) InterruptionReason {
	for {
		select {
		case <-disconnectCtx.Done():
			if shutdownCtx.Err() == nil {
				// Soft disconnect: shutdownCtx is still alive, so this was an
				// explicit Disconnect/Logout rather than a permanent shutdown.
				return c.writeLogoutAndClose()
			}
			return reasonFor(shutdownCtx)
		case msg := <-c.sendCh:
			data, err := protocol.Marshal(msg)
			if err != nil {
				c.logger.Warnw("failed to encode outbound signaling message", "error", err)
				continue
			}
			if err := c.transport.Send(disconnectCtx, data); err != nil {
				c.logger.Warnw("signaling transport send failed", "error", err)
				return ReasonDisconnected
			}
		}
	}
}

// writeLogoutAndClose best-effort sends a Logout frame then closes the
// transport. Called once the disconnect context is cancelled, mirroring
// the writer task's graceful-disconnect path.
func (c *Client) writeLogoutAndClose() InterruptionReason {
	sendCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if data, err := protocol.Marshal(protocol.LogoutMessage{}); err == nil {
		if err := c.transport.Send(sendCtx, data); err != nil {
			c.logger.Warnw("failed to send logout frame, closing anyway", "error", err)
		}
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Warnw("failed to close signaling transport", "error", err)
	}
	return ReasonDisconnected
}

func reasonFor(ctx context.Context) InterruptionReason {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ReasonShutdown
	}
	return ReasonError
}
