// Package ws adapts the Session Protocol (C4) onto a gorilla/websocket
// connection: one JSON text frame per message, no chunking.
package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// connTransport implements session.Transport over one websocket
// connection. It is not safe for concurrent use beyond the single
// reader / single writer goroutine the Session already guarantees.
type connTransport struct {
	conn *websocket.Conn
}

func newConnTransport(conn *websocket.Conn) *connTransport {
	return &connTransport{conn: conn}
}

func (t *connTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *connTransport) WriteMessage(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *connTransport) Close(code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return t.conn.Close()
}
