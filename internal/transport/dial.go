package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"chatsync/internal/auth"

	"github.com/fasthttp/websocket"
)

// WebSocketDialer dials wsURL with the session's current bearer token in the
// access_token query parameter, the way the server's auth middleware reads it.
func WebSocketDialer(wsURL string, tokens auth.Provider) Dialer {
	d := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	return func(ctx context.Context) (Conn, error) {
		token := tokens.Token()
		if token == "" {
			return nil, auth.ErrAuthRequired
		}
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, fmt.Errorf("parse websocket url: %w", err)
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()

		conn, resp, err := d.DialContext(ctx, u.String(), nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %s: %w", u.Host, resp.Status, err)
			}
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return conn, nil
	}
}
