package client

import (
	"context"
	"fmt"

	"github.com/bromq-dev/soupbintcp/pkg/listeners"
	"github.com/gorilla/websocket"
)

// DialWebSocket connects to a SoupBinTCP WebSocket endpoint such as
// ws://host:port/soupbintcp and logs in with cfg. cfg.Addr is ignored.
func DialWebSocket(ctx context.Context, rawURL string, cfg *Config) (*Client, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Subprotocols:     []string{listeners.Subprotocol},
		HandshakeTimeout: cfg.DialTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn := listeners.NewWebSocketConn(ws, "")
	cfg.Addr = conn.RemoteAddr().String()
	return connect(ctx, conn, cfg)
}
