package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bromq-dev/soupbintcp/pkg/listeners"
	"github.com/bromq-dev/soupbintcp/pkg/packet"
)

// ErrServerClosed is returned by Serve and AddListener after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Server accepts SoupBinTCP connections for a single session.
type Server struct {
	config  *Config
	handler Handler
	hooks   *Hooks
	log     *slog.Logger

	// Sequence number of the next SequencedData message.
	broadcastMu sync.Mutex
	sequence    atomic.Uint64

	// Connection management
	sessionsMu sync.RWMutex
	sessions   map[*Session]struct{}
	nextID     atomic.Uint64

	listenersMu sync.Mutex
	listeners   []listeners.Listener

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats holds server statistics.
type Stats struct {
	Connections    int
	Authenticated  int
	Session        string
	SequenceNumber uint64
}

// New creates a new server. The handler receives unsequenced data from
// authenticated clients and is required.
func New(config *Config, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler is required")
	}
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		handler:  handler,
		hooks:    NewHooks(),
		log:      config.Logger,
		sessions: make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.sequence.Store(config.SequenceNumber)
	return s, nil
}

// Config returns a copy of the server configuration.
func (s *Server) Config() Config {
	return *s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.log
}

// RegisterHook registers a hook for extending server behavior.
func (s *Server) RegisterHook(hook Hook) {
	s.hooks.Register(hook)
}

// AddHook initializes a hook with its config and registers it.
// The config parameter is hook-specific configuration (can be nil).
func (s *Server) AddHook(hook Hook, config any) error {
	if init, ok := hook.(HookInitializer); ok {
		opts := &HookOptions{
			Server: s,
			Logger: s.log.With("hook", hook.ID()),
		}
		if err := init.Init(opts, config); err != nil {
			return fmt.Errorf("init hook %s: %w", hook.ID(), err)
		}
	}
	s.hooks.Register(hook)
	return nil
}

// Session returns the identifier of the session served.
func (s *Server) Session() string {
	return s.config.Session
}

// SequenceNumber returns the sequence number of the next SequencedData message.
func (s *Server) SequenceNumber() uint64 {
	return s.sequence.Load()
}

// HandleConnection serves a newly accepted connection in its own goroutine.
// It is called by listeners and may be called directly for custom transports.
func (s *Server) HandleConnection(conn net.Conn) {
	select {
	case <-s.ctx.Done():
		conn.Close()
		return
	default:
	}

	if limit := s.config.MaxConnections; limit > 0 && s.connectionCount() >= limit {
		s.log.Warn("connection limit reached, dropping connection",
			"remote_addr", conn.RemoteAddr().String(),
			"max_connections", limit,
		)
		conn.Close()
		return
	}

	id := "conn-" + strconv.FormatUint(s.nextID.Add(1), 10)
	sess, err := newSession(s, id, conn)
	if err != nil {
		s.log.Error("failed to start session", "remote_addr", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}
	s.addSession(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.removeSession(sess)
		sess.run(s.ctx)
	}()
}

// AddListener starts serving connections from l in the background.
// The listener is closed at Shutdown.
func (s *Server) AddListener(l listeners.Listener) error {
	select {
	case <-s.ctx.Done():
		return ErrServerClosed
	default:
	}

	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := l.Serve(s); err != nil {
			s.log.Error("listener stopped", "listener", l.ID(), "error", err)
		}
	}()
	return nil
}

// Serve accepts connections from l until it is closed. The listener is
// closed at Shutdown.
func (s *Server) Serve(l listeners.Listener) error {
	select {
	case <-s.ctx.Done():
		return ErrServerClosed
	default:
	}

	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()

	return l.Serve(s)
}

// ListenAndServe listens on the TCP address addr and serves connections.
func (s *Server) ListenAndServe(addr string) error {
	return s.Serve(listeners.NewTCP("tcp", addr, nil))
}

// Broadcast sends payload as SequencedData to every authenticated client
// and advances the sequence number. It returns the number of clients the
// message was written to.
func (s *Server) Broadcast(payload []byte) (int, error) {
	if len(payload) > packet.MaxPayloadSize {
		return 0, packet.ErrPacketTooLarge
	}

	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	sent := 0
	for _, sess := range s.snapshot() {
		if !sess.Authenticated() {
			continue
		}
		if err := sess.Send(packet.TypeSequencedData, payload); err != nil {
			sess.log.Debug("broadcast failed", "error", err)
			continue
		}
		sent++
	}
	s.sequence.Add(1)
	return sent, nil
}

// EndSession sends EndOfSession to every authenticated client and closes
// all connections.
func (s *Server) EndSession() {
	for _, sess := range s.snapshot() {
		if sess.Authenticated() {
			_ = sess.EndOfSession()
			continue
		}
		_ = sess.Close()
	}
}

// Shutdown gracefully shuts down the server: listeners are closed, every
// connection is closed, and registered hooks are stopped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	// Close all listeners first
	s.listenersMu.Lock()
	for _, l := range s.listeners {
		if err := l.Close(); err != nil {
			s.log.Debug("close listener", "listener", l.ID(), "error", err)
		}
	}
	s.listeners = nil
	s.listenersMu.Unlock()

	for _, sess := range s.snapshot() {
		_ = sess.Close()
	}

	// Wait for all goroutines
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return s.hooks.Stop()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns server statistics.
func (s *Server) Stats() Stats {
	sessions := s.snapshot()
	authenticated := 0
	for _, sess := range sessions {
		if sess.Authenticated() {
			authenticated++
		}
	}
	return Stats{
		Connections:    len(sessions),
		Authenticated:  authenticated,
		Session:        s.config.Session,
		SequenceNumber: s.SequenceNumber(),
	}
}

func (s *Server) addSession(sess *Session) {
	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
}

func (s *Server) removeSession(sess *Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()
}

func (s *Server) connectionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) snapshot() []*Session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
