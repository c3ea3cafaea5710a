package signaling

import (
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsControlWait = 1 * time.Second
	wsWriteWait   = 10 * time.Second
	// closeGrace bounds how long the reader waits for the peer's close reply
	// after the server sent its close frame.
	closeGrace = 1 * time.Second
)

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsControlWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
