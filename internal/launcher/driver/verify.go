package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// verifyEndpoint completes a websocket handshake with endpoint and closes the
// connection straight away. A launch server tolerates clients that disconnect
// before sending anything.
func verifyEndpoint(ctx context.Context, endpoint string, timeout time.Duration) error {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("handshake %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return fmt.Errorf("handshake %s: %w", endpoint, err)
	}
	defer conn.Close()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return nil
}
