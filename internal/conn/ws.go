package conn

import (
	"context"

	"github.com/coder/websocket"
)

// wsConn adapts a websocket connection to the Conn interface.
type wsConn struct {
	c *websocket.Conn
}

// NewWebsocketConn wraps an accepted websocket connection.
func NewWebsocketConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
