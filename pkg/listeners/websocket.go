package listeners

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is the WebSocket subprotocol negotiated for SoupBinTCP.
const Subprotocol = "soupbintcp"

// DefaultWebSocketPath is the URL path served when none is configured.
const DefaultWebSocketPath = "/soupbintcp"

// WebSocketConfig holds configuration for WebSocket listeners.
type WebSocketConfig struct {
	// TLSConfig enables TLS if set.
	TLSConfig *tls.Config

	// Path is the URL path to listen on. Default: "/soupbintcp".
	Path string

	// CheckOrigin is a function to validate the Origin header.
	// If nil, all origins are allowed.
	CheckOrigin func(r *http.Request) bool

	// ReadBufferSize and WriteBufferSize size the upgrader buffers (0 = gorilla default).
	ReadBufferSize  int
	WriteBufferSize int

	// Logger for upgrade errors. If nil, uses slog.Default().
	Logger *slog.Logger
}

// WebSocket is a WebSocket listener. Each binary message carries a chunk of
// the SoupBinTCP byte stream; packets may span messages.
type WebSocket struct {
	id       string
	addr     string
	config   *WebSocketConfig
	log      *slog.Logger
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	handler  ConnectionHandler
	wg       sync.WaitGroup
	closed   chan struct{}
	mu       sync.Mutex
}

// NewWebSocket creates a new WebSocket listener.
func NewWebSocket(id, addr string, config *WebSocketConfig) *WebSocket {
	if config == nil {
		config = &WebSocketConfig{}
	}
	if config.Path == "" {
		config.Path = DefaultWebSocketPath
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &WebSocket{
		id:     id,
		addr:   addr,
		config: config,
		log:    log.With("listener", id),
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
		},
		closed: make(chan struct{}),
	}
}

// ID returns the listener ID.
func (w *WebSocket) ID() string {
	return w.id
}

// Addr returns the bound address, or nil before Serve.
func (w *WebSocket) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// Path returns the URL path served.
func (w *WebSocket) Path() string {
	return w.config.Path
}

// Serve starts the WebSocket server.
func (w *WebSocket) Serve(handler ConnectionHandler) error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.config.Path, w.handleWebSocket)

	var ln net.Listener
	var err error

	if w.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", w.addr, w.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", w.addr)
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	select {
	case <-w.closed:
		w.mu.Unlock()
		ln.Close()
		return nil
	default:
	}
	w.handler = handler
	w.listener = ln
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := w.server
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	w.log.Info("listening", "addr", ln.Addr().String(), "path", w.config.Path, "tls", w.config.TLSConfig != nil)

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (w *WebSocket) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-w.closed:
		http.Error(rw, "server closing", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	w.handler.HandleConnection(NewWebSocketConn(ws, r.RemoteAddr))
}

// Close stops the WebSocket server.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	select {
	case <-w.closed:
		w.mu.Unlock()
		return ErrListenerClosed
	default:
		close(w.closed)
	}
	if w.server != nil {
		w.server.Close()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// NewWebSocketConn adapts a WebSocket connection to net.Conn.
// Reads concatenate binary messages into a byte stream; each Write is sent
// as one binary message. If remoteAddr is empty the socket's address is used.
func NewWebSocketConn(ws *websocket.Conn, remoteAddr string) net.Conn {
	if remoteAddr == "" {
		remoteAddr = ws.RemoteAddr().String()
	}
	return &wsConn{Conn: ws, remoteAddr: remoteAddr}
}

// wsConn wraps websocket.Conn to implement net.Conn.
type wsConn struct {
	*websocket.Conn
	reader     io.Reader
	remoteAddr string
	readMu     sync.Mutex
	writeMu    sync.Mutex
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			messageType, r, err := c.Conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			// Text frames carry nothing for us
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) RemoteAddr() net.Addr {
	return &wsAddr{addr: c.remoteAddr}
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.Conn.LocalAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// wsAddr implements net.Addr for WebSocket connections.
type wsAddr struct {
	addr string
}

func (a *wsAddr) Network() string { return "websocket" }
func (a *wsAddr) String() string  { return a.addr }
