package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hedge-sync-go/internal/wire"
)

// CallWS sends one command to a master's ws /command endpoint.
func CallWS(endpoint string, req wire.Request, timeout time.Duration) ([]byte, error) {
	body, err := wire.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	conn.SetReadDeadline(deadline)
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("receive reply: %w", err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return reply, nil
}

// Dial sends one command to endpoint using the client matching its scheme:
// tcp:// for zmq, ws:// for websocket.
func Dial(endpoint, serverKey string, req wire.Request, timeout time.Duration) ([]byte, error) {
	switch {
	case strings.HasPrefix(endpoint, "tcp://"), strings.HasPrefix(endpoint, "ipc://"):
		return Call(endpoint, serverKey, req, timeout)
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		if serverKey != "" {
			return nil, fmt.Errorf("%w: websocket endpoints have no CURVE mode", ErrEncryptionUnavailable)
		}
		return CallWS(endpoint, req, timeout)
	default:
		return nil, fmt.Errorf("unsupported command endpoint %q", endpoint)
	}
}
