package tunnel

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// WebSocketConn wraps a stream connection to implement io.ReadWriteCloser.
// Each Write becomes one binary message; message boundaries are not
// preserved on Read.
type WebSocketConn struct {
	conn       *websocket.Conn
	readBuffer []byte
	closeOnce  sync.Once
	closeErr   error
}

// NewWebSocketConn creates a new WebSocket to io.ReadWriteCloser adapter.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Read reads data from the WebSocket connection.
// Messages larger than b are buffered internally. A normal closure from the
// peer is reported as io.EOF.
func (w *WebSocketConn) Read(b []byte) (int, error) {
	if len(w.readBuffer) > 0 {
		n := copy(b, w.readBuffer)
		w.readBuffer = w.readBuffer[n:]
		return n, nil
	}

	_, msg, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, io.EOF
		}
		return 0, err
	}

	n := copy(b, msg)
	if n < len(msg) {
		w.readBuffer = msg[n:]
	}
	return n, nil
}

// Write writes b to the WebSocket connection as a single binary message.
func (w *WebSocketConn) Write(b []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, b)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a normal closure frame and closes the connection. It is safe
// to call concurrently with Read and Write, and more than once.
func (w *WebSocketConn) Close() error {
	w.closeOnce.Do(func() {
		err := w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			w.closeErr = err
		}
		if err := w.conn.Close(); err != nil && w.closeErr == nil {
			w.closeErr = err
		}
	})
	return w.closeErr
}

var _ io.ReadWriteCloser = (*WebSocketConn)(nil)
