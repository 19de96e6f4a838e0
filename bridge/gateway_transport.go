package bridge

import (
	"context"

	"github.com/switchupcb/websocket"
	"github.com/wyrecode/pulsegate/bridge/internal/socket"
)

// gatewayTransport owns one WebSocket connection and frames text-JSON
// messages over it, per spec.md §4.6. It does not interpret opcodes; that
// is the Session Manager's job.
type gatewayTransport struct {
	conn *websocket.Conn
}

// connect dials url and stores the resulting connection.
func (t *gatewayTransport) connect(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	t.conn = conn

	return nil
}

// receive reads and decodes the next frame.
func (t *gatewayTransport) receive(ctx context.Context) (Frame, error) {
	var f Frame
	if err := socket.Read(ctx, t.conn, &f); err != nil {
		var closeErr websocket.CloseError
		if isCloseError(err, &closeErr) {
			return f, &CloseError{Code: int(closeErr.Code), Reason: closeErr.Reason}
		}

		return f, &TransportError{Op: "read", Err: err}
	}

	return f, nil
}

// send encodes and writes a frame.
func (t *gatewayTransport) send(ctx context.Context, raw []byte) error {
	if err := socket.Write(ctx, t.conn, rawFrame(raw)); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	return nil
}

// rawFrame lets an already-encoded []byte satisfy socket.Write's JSON
// encoder without a second marshal/unmarshal round-trip.
type rawFrame []byte

func (r rawFrame) MarshalJSON() ([]byte, error) { return r, nil }

// closeGraceful closes the connection with the given status code and
// description, signalling a clean shutdown to the peer.
func (t *gatewayTransport) closeGraceful(code int, reason string) error {
	if t.conn == nil {
		return nil
	}

	return t.conn.Close(websocket.StatusCode(code), reason)
}

// closeAbrupt disposes the socket without sending a close frame.
func (t *gatewayTransport) closeAbrupt() {
	if t.conn == nil {
		return
	}

	_ = t.conn.Close(websocket.StatusCode(closeCodeAbnormal), "")
}

// isCloseError reports whether err is (or wraps) a websocket.CloseError,
// writing it into target on success.
func isCloseError(err error, target *websocket.CloseError) bool {
	type closeErrorAs interface {
		As(any) bool
	}

	if ce, ok := err.(websocket.CloseError); ok { //nolint:errorlint // library returns the concrete type directly
		*target = ce

		return true
	}

	if x, ok := err.(closeErrorAs); ok {
		return x.As(target)
	}

	return false
}

// Client-facing gateway close status codes used by the Session Manager.
const (
	closeCodeNormal         = 1000
	closeCodeAway           = 1001
	closeCodeAbnormal       = 1006
	closeCodeProtocolError  = 1002
	closeCodeReconnect      = 4000
)
