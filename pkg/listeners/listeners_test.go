package listeners

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo copies every accepted connection back to itself.
type echo struct{}

func (echo) HandleConnection(conn net.Conn) {
	go func() {
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()
}

func serve(t *testing.T, l Listener) {
	t.Helper()
	go func() { _ = l.Serve(echo{}) }()
	require.Eventually(t, func() bool { return l.Addr() != nil }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { _ = l.Close() })
}

func TestTCPAcceptsConnections(t *testing.T) {
	l := NewTCP("tcp", "127.0.0.1:0", nil)
	assert.Equal(t, "tcp", l.ID())
	assert.Nil(t, l.Addr())
	serve(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("\x00\x01H"))
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x01H"), buf)
}

func TestTCPCloseTwice(t *testing.T) {
	l := NewTCP("tcp", "127.0.0.1:0", nil)
	go func() { _ = l.Serve(echo{}) }()
	require.Eventually(t, func() bool { return l.Addr() != nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Close(), ErrListenerClosed)
}

func TestWebSocketStream(t *testing.T) {
	l := NewWebSocket("ws", "127.0.0.1:0", nil)
	assert.Equal(t, DefaultWebSocketPath, l.Path())
	serve(t, l)

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	ws, resp, err := dialer.Dial("ws://"+l.Addr().String()+DefaultWebSocketPath, nil)
	require.NoError(t, err)
	assert.Equal(t, Subprotocol, resp.Header.Get("Sec-Websocket-Protocol"))

	conn := NewWebSocketConn(ws, "")
	defer conn.Close()
	assert.Equal(t, "websocket", conn.RemoteAddr().Network())

	// A packet split over two messages reads back as one byte stream.
	_, err = conn.Write([]byte("\x00\x03+"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("hi"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x03+hi"), buf)
}
