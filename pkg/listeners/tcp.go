package listeners

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPConfig holds configuration for TCP listeners.
type TCPConfig struct {
	// TLSConfig enables TLS if set.
	TLSConfig *tls.Config

	// KeepAlive sets the TCP keep-alive period (0 = OS default, negative disables).
	KeepAlive time.Duration

	// Logger for accept errors. If nil, uses slog.Default().
	Logger *slog.Logger
}

// TCP is a TCP listener, optionally with TLS.
type TCP struct {
	id       string
	addr     string
	config   *TCPConfig
	log      *slog.Logger
	listener net.Listener
	wg       sync.WaitGroup
	closed   chan struct{}
	mu       sync.Mutex
}

// NewTCP creates a new TCP listener.
// Use config.TLSConfig to enable TLS.
func NewTCP(id, addr string, config *TCPConfig) *TCP {
	if config == nil {
		config = &TCPConfig{}
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TCP{
		id:     id,
		addr:   addr,
		config: config,
		log:    log.With("listener", id),
		closed: make(chan struct{}),
	}
}

// ID returns the listener ID.
func (t *TCP) ID() string {
	return t.id
}

// Addr returns the listener's address.
// Returns nil if the listener hasn't started.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Serve starts the listener and accepts connections.
func (t *TCP) Serve(handler ConnectionHandler) error {
	lc := net.ListenConfig{KeepAlive: t.config.KeepAlive}
	l, err := lc.Listen(context.Background(), "tcp", t.addr)
	if err != nil {
		return err
	}
	if t.config.TLSConfig != nil {
		l = tls.NewListener(l, t.config.TLSConfig)
	}

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		l.Close()
		return nil
	default:
	}
	t.listener = l
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	t.log.Info("listening", "addr", l.Addr().String(), "tls", t.config.TLSConfig != nil)

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient error (e.g. too many open files), back off and retry
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			t.log.Warn("accept failed, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		handler.HandleConnection(conn)
	}
}

// Close stops the listener.
func (t *TCP) Close() error {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return ErrListenerClosed
	default:
		close(t.closed)
	}

	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}
