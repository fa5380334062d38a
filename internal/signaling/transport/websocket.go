package transport

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// WebsocketTransport wraps a gorilla/websocket connection. Reads and
// writes each run on their own goroutine inside the signaling client, so
// no internal locking is needed here beyond what gorilla itself provides
// for a single reader and a single writer.
type WebsocketTransport struct {
	conn *websocket.Conn
}

// Dial opens a websocket connection to url, sending the given request
// headers (used to carry the bearer token on the upgrade request).
func Dial(ctx context.Context, url string, header map[string][]string) (*WebsocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling websocket: %w", err)
	}
	return &WebsocketTransport{conn: conn}, nil
}

// Send writes one text frame. A deadline on ctx becomes the write
// deadline; gorilla/websocket has no native context support for individual
// writes, so cancelling ctx does not interrupt a write in progress.
func (t *WebsocketTransport) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next text frame.
func (t *WebsocketTransport) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read signaling frame: %w", err)
	}
	return data, nil
}

// Close closes the underlying connection after sending a close frame.
func (t *WebsocketTransport) Close() error {
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}
