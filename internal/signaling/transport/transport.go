// Package transport defines the wire-level duplex the signaling client
// reads from and writes to, plus a real websocket implementation and a
// mock used by client tests.
package transport

import "context"

// Transport is a duplex byte-message channel. Implementations need not be
// safe for concurrent Send and Recv from different goroutines unless
// documented otherwise; the signaling client only ever calls Send from its
// writer goroutine and Recv from its reader goroutine.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}
