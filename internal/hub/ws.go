// ABOUTME: WebSocket adapter for observer connections

package hub

import (
	"context"

	"github.com/coder/websocket"
)

// WSConn adapts a websocket connection to the ObserverConn interface.
type WSConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an accepted websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Write sends one text frame.
func (w *WSConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// Close performs a normal websocket closure.
func (w *WSConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
